package artifact

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mender-core/agent/internal/digest"
)

func TestReadHeaderHappyPath(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{})
	ar := NewReader(bytes.NewReader(raw))

	hv, err := ar.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, "release-1", hv.Info().Provides.ArtifactName)
	assert.Equal(t, []string{"qemux86-64"}, hv.Info().Depends.DeviceType)
}

// Invariant 2/3: iterating yields exactly the declared payloads, and each
// payload's bytes satisfy SHA-256(bytes) == manifest[name].
func TestPayloadIteratorHappyPath(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{payloadContent: []byte("hello rootfs")})
	ar := NewReader(bytes.NewReader(raw))
	_, err := ar.ReadHeader()
	require.NoError(t, err)

	it := ar.Payloads()
	chunk, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "update.ext4", chunk.Name)

	body, err := io.ReadAll(chunk.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello rootfs", string(body))

	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPayloadHashMismatchIsTerminal(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{payloadContent: []byte("original"), corruptDataBytes: true})
	ar := NewReader(bytes.NewReader(raw))
	_, err := ar.ReadHeader()
	require.NoError(t, err)

	it := ar.Payloads()
	chunk, err := it.Next()
	require.NoError(t, err)

	_, readErr := io.ReadAll(chunk.Body)
	require.Error(t, readErr)
	var mismatch *digest.ChecksumMismatchError
	require.ErrorAs(t, readErr, &mismatch)

	// Further calls return the same terminal error class.
	_, err2 := it.Next()
	require.Error(t, err2)
}

func TestPayloadHashMismatchDetectedOnFinalizeWithoutFullRead(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{payloadContent: []byte("original"), corruptDataBytes: true})
	ar := NewReader(bytes.NewReader(raw))
	_, err := ar.ReadHeader()
	require.NoError(t, err)

	it := ar.Payloads()
	_, err = it.Next()
	require.NoError(t, err)
	// Deliberately do not read the chunk body; Next() must still drain and
	// detect the mismatch before/instead of returning EOF.
	_, err = it.Next()
	require.Error(t, err)
}

func TestWrongVersionRejected(t *testing.T) {
	raw := buildArtifactWithVersion(t, 2)
	ar := NewReader(bytes.NewReader(raw))
	_, err := ar.ReadHeader()
	require.Error(t, err)
	var se *StructuralError
	assert.ErrorAs(t, err, &se)
}

func TestSignatureSkipIgnoresSignature(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{withSignature: []byte("not-even-a-real-signature")})
	ar := NewReader(bytes.NewReader(raw), WithSignaturePolicy(SignatureSkip))
	_, err := ar.ReadHeader()
	require.NoError(t, err)
}

func TestSignatureVerifyWithNoSignatureEntryAndEmptyKeysIsSetupError(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{})
	ar := NewReader(bytes.NewReader(raw), WithSignaturePolicy(SignatureVerify))
	_, err := ar.ReadHeader()
	require.Error(t, err)
	var se *SetupError
	assert.ErrorAs(t, err, &se)
}

type fakeVerifier struct {
	accept bool
}

func (f fakeVerifier) Verify(message, signature []byte) error {
	if f.accept {
		return nil
	}
	return assertAlwaysFailsErr
}

var assertAlwaysFailsErr = &SignatureError{Reason: "fake rejects everything"}

func TestSignatureVerifySucceedsAgainstOneOfManyKeys(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{withSignature: []byte("sig-bytes")})
	ar := NewReader(bytes.NewReader(raw),
		WithSignaturePolicy(SignatureVerify),
		WithVerifiers(fakeVerifier{accept: false}, fakeVerifier{accept: true}))
	_, err := ar.ReadHeader()
	require.NoError(t, err)
}

func TestSignatureVerifyFailsAgainstAllKeys(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{withSignature: []byte("sig-bytes")})
	ar := NewReader(bytes.NewReader(raw),
		WithSignaturePolicy(SignatureVerify),
		WithVerifiers(fakeVerifier{accept: false}))
	_, err := ar.ReadHeader()
	require.Error(t, err)
	var se *SignatureError
	assert.ErrorAs(t, err, &se)
}

func TestHeaderViewGetProvidesAndDepends(t *testing.T) {
	raw := buildArtifact(t, artifactOpts{})
	ar := NewReader(bytes.NewReader(raw))
	hv, err := ar.ReadHeader()
	require.NoError(t, err)

	provides := hv.GetProvides()
	assert.Equal(t, "release-1", provides["artifact_name"])

	depends := hv.GetDepends()
	assert.Equal(t, []string{"qemux86-64"}, depends["device_type"])
}
