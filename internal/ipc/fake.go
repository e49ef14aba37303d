package ipc

import "sync"

// FakeBus is an in-memory Bus used by tests that need to observe emitted
// signals, drive registered method handlers, or exercise signal
// subscriptions without a real D-Bus daemon.
type FakeBus struct {
	mu          sync.Mutex
	signals     []FakeSignal
	subscribers map[string][]func(args ...interface{})
	handlers    map[string]func(args ...interface{}) ([]interface{}, error)
	closed      bool
}

// FakeSignal records one EmitSignal call.
type FakeSignal struct {
	Interface string
	Name      string
	Args      []interface{}
}

// NewFakeBus returns a ready-to-use FakeBus.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		subscribers: make(map[string][]func(args ...interface{})),
		handlers:    make(map[string]func(args ...interface{}) ([]interface{}, error)),
	}
}

// EmitSignal implements Bus: it records the signal and fans it out to any
// subscriber registered for iface.name.
func (b *FakeBus) EmitSignal(iface, name string, args ...interface{}) error {
	b.mu.Lock()
	b.signals = append(b.signals, FakeSignal{Interface: iface, Name: name, Args: args})
	subs := append([]func(args ...interface{}){}, b.subscribers[iface+"."+name]...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(args...)
	}
	return nil
}

// RegisterSignalHandler implements Bus.
func (b *FakeBus) RegisterSignalHandler(iface, name string, fn func(args ...interface{})) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := iface + "." + name
	b.subscribers[key] = append(b.subscribers[key], fn)
	return nil
}

// CallMethod implements Bus: it invokes the handler registered for
// iface.method, if any.
func (b *FakeBus) CallMethod(iface, method string, args ...interface{}) ([]interface{}, error) {
	b.mu.Lock()
	fn, ok := b.handlers[iface+"."+method]
	b.mu.Unlock()
	if !ok {
		return nil, errHandlerNotFound(iface + "." + method)
	}
	return fn(args...)
}

// MethodHandler implements Bus.
func (b *FakeBus) MethodHandler(iface, method string, fn func(args ...interface{}) ([]interface{}, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[iface+"."+method] = fn
	return nil
}

// Close implements Bus.
func (b *FakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Signals returns a copy of every signal emitted so far.
func (b *FakeBus) Signals() []FakeSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FakeSignal, len(b.signals))
	copy(out, b.signals)
	return out
}

type errHandlerNotFound string

func (e errHandlerNotFound) Error() string { return "ipc: no handler registered for " + string(e) }
