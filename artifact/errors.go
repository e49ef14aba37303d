package artifact

import "fmt"

// StructuralError reports a required entry that's absent, an entry found
// where a different one was expected, or an unsupported artifact version.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string { return "artifact: structural error: " + e.Reason }

func structuralErrorf(format string, args ...interface{}) error {
	return &StructuralError{Reason: fmt.Sprintf(format, args...)}
}

// SignatureError reports that every configured key rejected the signature.
// Having no verification key configured at all is a SetupError instead.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string { return "artifact: signature error: " + e.Reason }

// SetupError reports a misconfiguration that prevents the reader from even
// attempting an operation (e.g. Verify policy with no keys configured).
type SetupError struct {
	Reason string
}

func (e *SetupError) Error() string { return "artifact: setup error: " + e.Reason }
