package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildArtifact constructs a minimal, well-formed v3 artifact in memory
// with a single rootfs-image payload file, and returns the outer tar bytes.
// corruptDataBytes appends a byte to the stored payload so its hash no
// longer matches the manifest (for hash-mismatch tests).
type artifactOpts struct {
	payloadContent   []byte
	withSignature    []byte
	corruptDataBytes bool
}

func buildArtifact(t *testing.T, opts artifactOpts) []byte {
	t.Helper()
	if opts.payloadContent == nil {
		opts.payloadContent = []byte("pretend-rootfs-bytes")
	}

	sum := sha256.Sum256(opts.payloadContent)
	hexSum := hex.EncodeToString(sum[:])

	manifestBody := hexSum + "  update.ext4\n"

	headerInfo := `{
		"payloads": [{"type": "rootfs-image"}],
		"provides": {"artifact_name": "release-1"},
		"depends": {"device_type": ["qemux86-64"]}
	}`
	typeInfo := `{"type": "rootfs-image"}`

	headerTarGz := buildGzipTar(t, []tarFile{
		{"header-info", []byte(headerInfo)},
		{"headers/0000/type-info", []byte(typeInfo)},
	})

	dataContent := opts.payloadContent
	if opts.corruptDataBytes {
		dataContent = append(append([]byte{}, dataContent...), 'X')
	}
	dataTarGz := buildGzipTar(t, []tarFile{
		{"update.ext4", dataContent},
	})

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	writeTarFile(t, tw, "version", []byte(`{"format":"mender","version":3}`))
	writeTarFile(t, tw, "manifest", []byte(manifestBody))
	if opts.withSignature != nil {
		writeTarFile(t, tw, "manifest.sig", opts.withSignature)
	}
	writeTarFile(t, tw, "header.tar.gz", headerTarGz)
	writeTarFile(t, tw, "data/0000.tar.gz", dataTarGz)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

// buildArtifactWithVersion builds just enough of an artifact to exercise
// version rejection: a "version" entry declaring the given version number,
// nothing else.
func buildArtifactWithVersion(t *testing.T, version int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	body := []byte(`{"format":"mender","version":` + strconv.Itoa(version) + `}`)
	writeTarFile(t, tw, "version", body)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

type tarFile struct {
	name string
	body []byte
}

func buildGzipTar(t *testing.T, files []tarFile) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	gw := gzip.NewWriter(buf)
	tw := tar.NewWriter(gw)
	for _, f := range files {
		writeTarFile(t, tw, f.name, f.body)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func writeTarFile(t *testing.T, tw *tar.Writer, name string, body []byte) {
	t.Helper()
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Mode: 0644}))
	_, err := tw.Write(body)
	require.NoError(t, err)
}
