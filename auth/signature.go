package auth

import "encoding/base64"

// encodeSignature renders a raw signature for the X-MEN-Signature header.
// The signing algorithm is opaque to this package; base64 is simply the
// wire encoding chosen for the header value.
func encodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}
