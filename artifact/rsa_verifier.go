package artifact

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// RSAVerifier is a Verifier backed by a PEM-encoded RSA public key, checking
// a PKCS#1 v1.5 signature over the SHA-256 digest of the message. It exists
// as the artifact-core CLI's default concrete Verifier; nothing in the core
// parsing path depends on it (Verifier stays a pluggable crypto
// collaborator).
type RSAVerifier struct {
	pub *rsa.PublicKey
}

// NewRSAVerifier parses a PEM-encoded PKIX public key.
func NewRSAVerifier(pemBytes []byte) (*RSAVerifier, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("artifact: no PEM block found in key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("artifact: parsing public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("artifact: key is not an RSA public key")
	}
	return &RSAVerifier{pub: rsaPub}, nil
}

// Verify implements Verifier.
func (v *RSAVerifier) Verify(message, signature []byte) error {
	sum := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(v.pub, crypto.SHA256, sum[:], signature); err != nil {
		return fmt.Errorf("artifact: rsa signature verification failed: %w", err)
	}
	return nil
}
