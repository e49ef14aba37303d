package artifact

// Verifier checks a detached signature over a message, returning nil if the
// signature is valid for that key and a non-nil error otherwise. The core
// never implements or negotiates the underlying algorithm itself.
type Verifier interface {
	Verify(message, signature []byte) error
}

// SignaturePolicy controls whether the Reader verifies the detached
// manifest signature before emitting payloads.
type SignaturePolicy int

const (
	// SignatureSkip ignores any manifest.sig entry entirely.
	SignatureSkip SignaturePolicy = iota
	// SignatureVerify requires the signature to validate against at
	// least one configured Verifier.
	SignatureVerify
)

// verifySignature tries each verifier in turn; success against any one is
// success overall. No verifiers configured is a SetupError (nothing could
// possibly apply); all verifiers rejecting the signature is a SignatureError.
func verifySignature(verifiers []Verifier, message, signature []byte) error {
	if len(verifiers) == 0 {
		return &SetupError{Reason: "verify_signature=Verify but no verification keys are configured"}
	}
	var lastErr error
	for _, v := range verifiers {
		if err := v.Verify(message, signature); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return &SignatureError{Reason: "signature did not validate against any configured key: " + lastErr.Error()}
}
