package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	calls int32
}

func (f *fakeIdentity) Run(ctx context.Context) (map[string][]string, error) {
	atomic.AddInt32(&f.calls, 1)
	return map[string][]string{"mac": {"00:11:22:33:44:55"}}, nil
}

type fakeSigner struct{ calls int32 }

func (f *fakeSigner) Sign(ctx context.Context, body []byte) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	return []byte("sig"), nil
}

type fakePubKeyer struct{ calls int32 }

func (f *fakePubKeyer) PublicKeyPEM(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return "-----BEGIN PUBLIC KEY-----\n...\n-----END PUBLIC KEY-----", nil
}

func testClient() *retryablehttp.Client {
	c := NewHTTPClient()
	return c
}

func newTestAuthenticator(t *testing.T, servers []string, identity *fakeIdentity, signer *fakeSigner, pk *fakePubKeyer) *Authenticator {
	t.Helper()
	a := New(Config{Servers: servers, AuthTimeout: 2 * time.Second}, identity, signer, pk, WithHTTPClient(testClient()))
	t.Cleanup(a.Close)
	return a
}

// S4: first server returns 401, second server succeeds.
func TestAuthenticatorFailoverToSecondServer(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("good-token"))
	}))
	defer good.Close()

	a := newTestAuthenticator(t, []string{bad.URL, good.URL}, &fakeIdentity{}, &fakeSigner{}, &fakePubKeyer{})

	resultCh := make(chan struct {
		data Data
		err  error
	}, 1)
	a.WithToken(func(d Data, err error) {
		resultCh <- struct {
			data Data
			err  error
		}{d, err}
	})

	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		assert.Equal(t, good.URL, r.data.ServerURL)
		assert.Equal(t, "good-token", r.data.Token)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for WithToken result")
	}
}

// S5: every server hangs past auth_timeout; caller gets a timeout error.
func TestAuthenticatorTimeout(t *testing.T) {
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer hang.Close()

	a := New(Config{Servers: []string{hang.URL}, AuthTimeout: 200 * time.Millisecond},
		&fakeIdentity{}, &fakeSigner{}, &fakePubKeyer{}, WithHTTPClient(testClient()))
	defer a.Close()

	errCh := make(chan error, 1)
	a.WithToken(func(d Data, err error) { errCh <- err })

	select {
	case err := <-errCh:
		require.Error(t, err)
		authErr, ok := err.(*AuthenticationError)
		require.True(t, ok)
		assert.Equal(t, "Timed-out waiting for a new token", authErr.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the authenticator's own timeout")
	}
}

// Invariant 5: N concurrent with_token calls while idle trigger exactly one
// identity/signing/HTTP round trip, and every caller gets the same result.
func TestAuthenticatorDedupesConcurrentCalls(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("shared-token"))
	}))
	defer srv.Close()

	identity := &fakeIdentity{}
	a := newTestAuthenticator(t, []string{srv.URL}, identity, &fakeSigner{}, &fakePubKeyer{})

	const n = 10
	var wg sync.WaitGroup
	results := make([]Data, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		idx := i
		a.WithToken(func(d Data, err error) {
			defer wg.Done()
			results[idx] = d
			errs[idx] = err
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&identity.calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-token", results[i].Token)
	}
}

// FIFO-with-trigger-last: pending callers queued behind an in-flight fetch
// are delivered before the caller whose WithToken triggered that fetch.
func TestAuthenticatorPendingBeforeTrigger(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("tok"))
	}))
	defer srv.Close()

	a := newTestAuthenticator(t, []string{srv.URL}, &fakeIdentity{}, &fakeSigner{}, &fakePubKeyer{})

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	wg.Add(3)
	// Idle, so this call starts the fetch; it is the "trigger".
	a.WithToken(func(d Data, err error) {
		mu.Lock()
		order = append(order, "trigger")
		mu.Unlock()
		wg.Done()
	})
	time.Sleep(20 * time.Millisecond)

	a.WithToken(func(d Data, err error) {
		mu.Lock()
		order = append(order, "pending-1")
		mu.Unlock()
		wg.Done()
	})
	a.WithToken(func(d Data, err error) {
		mu.Lock()
		order = append(order, "pending-2")
		mu.Unlock()
		wg.Done()
	})

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pending-1", "pending-2", "trigger"}, order)
}

// Subscribers are fanned out only on successful new-token transitions.
func TestAuthenticatorSubscribeNotifiesOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fresh-token"))
	}))
	defer srv.Close()

	a := newTestAuthenticator(t, []string{srv.URL}, &fakeIdentity{}, &fakeSigner{}, &fakePubKeyer{})

	notified := make(chan Data, 1)
	unsub := a.Subscribe(func(d Data) { notified <- d })
	defer unsub()

	a.ExpireToken()

	select {
	case d := <-notified:
		assert.Equal(t, "fresh-token", d.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was never notified")
	}
}

func TestCachedTokenServedWithoutRefetch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("cached-token"))
	}))
	defer srv.Close()

	a := newTestAuthenticator(t, []string{srv.URL}, &fakeIdentity{}, &fakeSigner{}, &fakePubKeyer{})

	first := make(chan Data, 1)
	a.WithToken(func(d Data, err error) { require.NoError(t, err); first <- d })
	<-first

	second := make(chan Data, 1)
	a.WithToken(func(d Data, err error) { require.NoError(t, err); second <- d })
	d := <-second

	assert.Equal(t, "cached-token", d.Token)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}
