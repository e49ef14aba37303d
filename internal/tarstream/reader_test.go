package tarstream

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTar(t *testing.T, files map[string]string, order []string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, name := range order {
		content := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Size: int64(len(content)),
			Mode: 0644,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestReaderYieldsEntriesInOrder(t *testing.T) {
	raw := buildTar(t, map[string]string{
		"a": "hello",
		"b": "world!",
	}, []string{"a", "b"})

	r := New(bytes.NewReader(raw))

	e1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", e1.Name)
	assert.Equal(t, int64(5), e1.Size)

	e2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", e2.Name)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSkipsUnreadBytesOnAdvance(t *testing.T) {
	raw := buildTar(t, map[string]string{
		"a": "not fully read",
		"b": "second",
	}, []string{"a", "b"})

	r := New(bytes.NewReader(raw))
	_, err := r.Next()
	require.NoError(t, err)
	// Deliberately do not read e1.Body.

	e2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", e2.Name)
	body, err := io.ReadAll(e2.Body)
	require.NoError(t, err)
	assert.Equal(t, "second", string(body))
}

func TestReaderMalformedTar(t *testing.T) {
	r := New(bytes.NewReader([]byte("not a tar archive at all, long enough to pass min size checks maybe")))
	_, err := r.Next()
	assert.Error(t, err)
}
