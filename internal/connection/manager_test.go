package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studiochat/internal/socket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	mu      sync.Mutex
	token   string
	cleared int
}

func (f *fakeIdentity) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeIdentity) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	f.cleared++
	return nil
}

func (f *fakeIdentity) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
	at    []time.Time
}

func (n *recordingNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	n.at = append(n.at, time.Now())
}

func (n *recordingNavigator) snapshot() ([]string, []time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...), append([]time.Time(nil), n.at...)
}

// backend is a minimal socket endpoint that accepts or rejects handshakes.
type backend struct {
	*httptest.Server
	dials      atomic.Int32
	rejectCode int
	rejectBody string
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", func(w http.ResponseWriter, r *http.Request) {
		b.dials.Add(1)
		if b.rejectCode != 0 {
			w.WriteHeader(b.rejectCode)
			_, _ = w.Write([]byte(b.rejectBody))
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func newTestManager(url string, identity IdentityStore, nav Navigator) *Manager {
	return NewManager(Config{
		URL:                  url,
		Transports:           []socket.Transport{&socket.WebsocketTransport{}},
		ReconnectionAttempts: 2,
		ReconnectionDelay:    10 * time.Millisecond,
		ReconnectionDelayMax: 20 * time.Millisecond,
		Timeout:              time.Second,
		RedirectDelay:        100 * time.Millisecond,
	}, identity, nav, nil)
}

func TestManager_NoTokenReturnsPlaceholder(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(b.URL, &fakeIdentity{}, nil)

	s := m.Get(context.Background(), "")
	require.NotNil(t, s)
	require.False(t, s.Connected())
	require.False(t, s.Active())
	require.Equal(t, StateAbsent, m.State())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), b.dials.Load())
}

func TestManager_ReusesSingleConnection(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(b.URL, &fakeIdentity{token: "tok"}, nil)
	defer m.Disconnect()

	var wg sync.WaitGroup
	sockets := make([]*socket.Socket, 10)
	for i := range sockets {
		wg.Go(func() {
			sockets[i] = m.Get(context.Background(), "")
		})
	}
	wg.Wait()

	for _, s := range sockets {
		require.Same(t, sockets[0], s)
	}

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)
	require.Same(t, sockets[0], m.Get(context.Background(), ""))
	require.Equal(t, int32(1), b.dials.Load())
}

func TestManager_DisconnectCreatesFreshInstance(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(b.URL, &fakeIdentity{token: "tok"}, nil)

	first := m.Get(context.Background(), "")
	require.Eventually(t, first.Connected, 2*time.Second, 10*time.Millisecond)

	m.Disconnect()
	require.Equal(t, StateAbsent, m.State())

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("old socket did not stop")
	}
	require.False(t, first.Connected())

	second := m.Get(context.Background(), "")
	defer m.Disconnect()
	require.NotSame(t, first, second)
	require.Eventually(t, second.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestManager_AuthFailureLogsOut(t *testing.T) {
	b := newBackend(t)
	b.rejectCode = http.StatusUnauthorized
	b.rejectBody = `{"message":"jwt expired"}`

	identity := &fakeIdentity{token: "tok"}
	nav := &recordingNavigator{}
	m := newTestManager(b.URL, identity, nav)

	start := time.Now()
	m.Get(context.Background(), "")

	require.Eventually(t, func() bool { return identity.clearCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		paths, _ := nav.snapshot()
		return len(paths) == 1
	}, 2*time.Second, 5*time.Millisecond)

	paths, at := nav.snapshot()
	require.Equal(t, LoginPath, paths[0])
	require.GreaterOrEqual(t, at[0].Sub(start), 100*time.Millisecond)
	require.Equal(t, int32(1), b.dials.Load())
}

func TestManager_NetworkErrorKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	identity := &fakeIdentity{token: "tok"}
	nav := &recordingNavigator{}
	m := newTestManager(url, identity, nav)

	s := m.Get(context.Background(), "")
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not exhaust reconnection attempts")
	}

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, identity.clearCount())
	paths, _ := nav.snapshot()
	require.Empty(t, paths)
	require.Equal(t, "tok", identity.Token())
}

func TestManager_FallbackTransportErrorKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	transports, err := socket.TransportsByName([]string{"websocket", "polling"})
	require.NoError(t, err)

	identity := &fakeIdentity{token: "tok"}
	nav := &recordingNavigator{}
	m := newTestManager(url, identity, nav)
	m.cfg.Transports = transports

	s := m.Get(context.Background(), "")
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("socket did not exhaust reconnection attempts")
	}

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, identity.clearCount())
	paths, _ := nav.snapshot()
	require.Empty(t, paths)
	require.Equal(t, "tok", identity.Token())
}

func TestManager_DefaultAccessor(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	m := newTestManager("http://localhost:1", nil, nil)
	SetDefault(m)
	require.Same(t, m, Default())
}
