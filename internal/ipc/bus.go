// Package ipc provides the narrow message-bus abstraction the Authenticator
// uses to announce new tokens, and answer token queries from, other
// processes on the device. The production implementation talks to the
// system D-Bus; tests use an in-memory fake.
package ipc

// Bus is the message-bus behavior the core needs, kept as four distinct
// verbs rather than folding inbound and outbound traffic together:
//   - EmitSignal / RegisterSignalHandler are the signal side (fire-and-
//     forget broadcast, and subscribing to someone else's broadcast).
//   - CallMethod / MethodHandler are the method-call side (a blocking
//     request/response, and serving one).
type Bus interface {
	// EmitSignal broadcasts a signal with the given interface/name and
	// arguments to anyone listening on the bus.
	EmitSignal(iface, name string, args ...interface{}) error

	// RegisterSignalHandler subscribes fn to every signal named iface.name
	// broadcast on the bus.
	RegisterSignalHandler(iface, name string, fn func(args ...interface{})) error

	// CallMethod invokes method on iface and blocks for the reply.
	CallMethod(iface, method string, args ...interface{}) ([]interface{}, error)

	// MethodHandler installs fn to answer inbound calls to method on iface.
	// A non-nil error from fn is returned to the caller as a bus error
	// reply.
	MethodHandler(iface, method string, fn func(args ...interface{}) ([]interface{}, error)) error

	// Close releases the underlying connection.
	Close() error
}
