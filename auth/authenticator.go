package auth

import (
	"context"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mender-core/agent/internal/ipc"
)

// state is the Authenticator's state machine position.
type state int

const (
	stateIdle state = iota
	stateFetching
	stateCached
	stateFailed
)

// request is one pending with_token callback, in enqueue order.
type request struct {
	action func(Data, error)
}

// Authenticator owns all of its mutable state inside a single goroutine
// (the loop): every public method sends a closure over cmd and returns, the
// loop goroutine is the only place that ever reads or writes state/cached/
// pending/subscribers, so no locks are needed.
type Authenticator struct {
	cfg        Config
	identity   IdentityRunner
	signer     Signer
	pubKeyer   PublicKeyer
	httpClient *retryablehttp.Client
	bus        ipc.Bus

	cmd  chan func()
	stop chan struct{}
	done chan struct{}

	// loop-owned; touched only inside loop().
	st          state
	cached      Data
	trigger     *request
	pending     []*request
	subscribers []func(Data)
	fetchCancel context.CancelFunc
	fetchSeq    uint64
}

// Option configures an Authenticator at construction time.
type Option func(*Authenticator)

// WithBus wires a concrete IPC bus (e.g. internal/ipc's D-Bus adapter) so
// new tokens are also announced over that transport, in addition to the
// in-process Subscribe fan-out.
func WithBus(bus ipc.Bus) Option {
	return func(a *Authenticator) { a.bus = bus }
}

// WithHTTPClient overrides the retryablehttp client used for auth requests
// (tests substitute one pointed at an httptest.Server).
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(a *Authenticator) { a.httpClient = c }
}

// New constructs and starts an Authenticator. Call Close to stop its loop
// goroutine.
func New(cfg Config, identity IdentityRunner, signer Signer, pubKeyer PublicKeyer, opts ...Option) *Authenticator {
	a := &Authenticator{
		cfg:        cfg,
		identity:   identity,
		signer:     signer,
		pubKeyer:   pubKeyer,
		httpClient: NewHTTPClient(),
		cmd:        make(chan func()),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		st:         stateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.loop()
	return a
}

// Close stops the loop goroutine. Any fetch in flight is cancelled; its
// result, if it arrives afterward, is discarded.
func (a *Authenticator) Close() {
	close(a.stop)
	<-a.done
}

func (a *Authenticator) loop() {
	defer close(a.done)
	for {
		select {
		case fn := <-a.cmd:
			fn()
		case <-a.stop:
			if a.fetchCancel != nil {
				a.fetchCancel()
			}
			return
		}
	}
}

// WithToken schedules action to be invoked exactly once with either the
// current cached token or a freshly fetched one. If a fetch is already in
// flight, action is appended to the pending list and delivered when that
// fetch settles.
func (a *Authenticator) WithToken(action func(Data, error)) {
	a.cmd <- func() { a.handleWithToken(action) }
}

// ExpireToken marks the current cache invalid. If no fetch is in progress,
// one starts immediately; otherwise this call coalesces into the fetch
// already running.
func (a *Authenticator) ExpireToken() {
	a.cmd <- a.handleExpire
}

// Subscribe registers fn to be called, in registration order, every time
// the Authenticator transitions to a new valid token. The returned func
// unregisters it.
func (a *Authenticator) Subscribe(fn func(Data)) (unsubscribe func()) {
	done := make(chan func())
	a.cmd <- func() {
		idx := len(a.subscribers)
		a.subscribers = append(a.subscribers, fn)
		done <- func() {
			a.cmd <- func() { a.removeSubscriber(idx) }
		}
	}
	return <-done
}

func (a *Authenticator) removeSubscriber(idx int) {
	if idx < 0 || idx >= len(a.subscribers) {
		return
	}
	a.subscribers[idx] = nil
}

func (a *Authenticator) handleWithToken(action func(Data, error)) {
	switch a.st {
	case stateCached:
		deliver(action, a.cached, nil)
	case stateFetching:
		a.pending = append(a.pending, &request{action: action})
	case stateIdle, stateFailed:
		a.trigger = &request{action: action}
		a.startFetch()
	}
}

func (a *Authenticator) handleExpire() {
	if a.st == stateFetching {
		return // already in flight; this call coalesces, nothing more to do
	}
	a.cached = Data{}
	a.startFetch()
}

func (a *Authenticator) startFetch() {
	a.st = stateFetching
	a.fetchSeq++
	seq := a.fetchSeq

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.timeout())
	a.fetchCancel = cancel

	deps := fetchDeps{
		servers:     a.cfg.Servers,
		tenantToken: a.cfg.TenantToken,
		identity:    a.identity,
		signer:      a.signer,
		pubKeyer:    a.pubKeyer,
		httpClient:  a.httpClient,
	}

	go func() {
		data, err := fetchToken(ctx, deps)
		a.cmd <- func() { a.handleFetchResult(seq, data, err) }
	}()
}

func (a *Authenticator) handleFetchResult(seq uint64, data Data, err error) {
	if seq != a.fetchSeq {
		return // stale result from a fetch we've already moved past
	}
	if a.fetchCancel != nil {
		a.fetchCancel()
		a.fetchCancel = nil
	}

	trigger, pending := a.trigger, a.pending
	a.trigger, a.pending = nil, nil

	if err != nil {
		a.st = stateFailed
		a.cached = Data{}
		dispatchAll(pending, trigger, Data{}, err)
		return
	}

	a.st = stateCached
	a.cached = data
	dispatchAll(pending, trigger, data, nil)
	a.notifySubscribers(data)
}

// dispatchAll delivers result to every pending request in enqueue order,
// then to trigger (if any). All callbacks run one after another on a single
// goroutine, so that order holds.
func dispatchAll(reqs []*request, trigger *request, data Data, err error) {
	if trigger != nil {
		reqs = append(reqs, trigger)
	}
	go func() {
		for _, r := range reqs {
			r.action(data, err)
		}
	}()
}

// deliver runs action on its own goroutine: callbacks never run
// synchronously inside the loop, matching the design note that continuations
// "run later than the scheduling call (no re-entrancy inside the caller's
// frame)".
func deliver(action func(Data, error), data Data, err error) {
	go action(data, err)
}

func (a *Authenticator) notifySubscribers(data Data) {
	subs := append([]func(Data){}, a.subscribers...)
	go func() {
		for _, sub := range subs {
			if sub != nil {
				sub(data)
			}
		}
	}()
	if a.bus != nil {
		if err := a.bus.EmitSignal("io.mender.Authentication1", "ValidationComplete", data.ServerURL); err != nil {
			log.WithError(err).Warn("failed to emit token-refreshed signal over ipc bus")
		}
	}
}
