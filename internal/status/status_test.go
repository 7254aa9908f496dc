package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlynch/sia-load-tester/internal/exitevent"
)

type counterProvider struct {
	n atomic.Int64
}

func (p *counterProvider) snapshot() Snapshot {
	return Snapshot{
		RunID:      "run-1",
		Phase:      "running",
		Dispatched: int(p.n.Load()),
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (Envelope, Snapshot) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.NoError(t, env.ValidateBasic())
	var snap Snapshot
	require.NoError(t, env.DecodePayload(&snap))
	return env, snap
}

func TestHealth(t *testing.T) {
	s := NewServer((&counterProvider{}).snapshot, Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["ok"])
}

func TestStatusReturnsCurrentSnapshot(t *testing.T) {
	p := &counterProvider{}
	p.n.Store(7)
	s := NewServer(p.snapshot, Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 7, snap.Dispatched)
}

func TestStatusRejectsPost(t *testing.T) {
	s := NewServer((&counterProvider{}).snapshot, Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketGetsHelloThenPushes(t *testing.T) {
	p := &counterProvider{}
	s := NewServer(p.snapshot, Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	env, snap := readEnvelope(t, conn)
	assert.Equal(t, TypeHello, env.Type)
	assert.Equal(t, "run-1", env.RunID)
	assert.Zero(t, snap.Dispatched)

	require.Eventually(t, func() bool { return s.Watchers() == 1 }, 2*time.Second, 10*time.Millisecond)
	p.n.Store(3)
	s.Push()

	env, snap = readEnvelope(t, conn)
	assert.Equal(t, TypeStatus, env.Type)
	assert.Equal(t, 3, snap.Dispatched)
}

func TestWatcherRemovedOnClose(t *testing.T) {
	s := NewServer((&counterProvider{}).snapshot, Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return s.Watchers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	require.Eventually(t, func() bool { return s.Watchers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeStopsWhenExitEventSet(t *testing.T) {
	p := &counterProvider{}
	s := NewServer(p.snapshot, Config{PushInterval: 20 * time.Millisecond}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	exit := exitevent.New()
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), ln, exit) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env, _ := readEnvelope(t, conn)
	assert.Equal(t, TypeHello, env.Type)
	env, _ = readEnvelope(t, conn)
	assert.Equal(t, TypeStatus, env.Type)

	exit.Set()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHubBroadcastSkipsFullBuffers(t *testing.T) {
	h := NewHub()
	block := make(chan struct{})
	var mu sync.Mutex
	var got int
	remove := h.Add("slow", func(Envelope) error {
		<-block
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	})

	for i := 0; i < sendBuffer+50; i++ {
		h.Broadcast(Envelope{V: FeedVersion, Type: TypeStatus, MsgID: "x"})
	}
	close(block)
	remove()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, got, sendBuffer+1)
	assert.Zero(t, h.Count())
}

func TestHubReplacesDuplicateConnID(t *testing.T) {
	h := NewHub()
	removeOld := h.Add("a", func(Envelope) error { return nil })
	removeNew := h.Add("a", func(Envelope) error { return nil })
	assert.Equal(t, 1, h.Count())

	removeOld()
	assert.Equal(t, 1, h.Count())
	removeNew()
	assert.Zero(t, h.Count())
}

func TestEnvelopeValidation(t *testing.T) {
	env, err := NewEnvelope(TypeStatus, Snapshot{Phase: "done"})
	require.NoError(t, err)
	assert.NoError(t, env.ValidateBasic())
	assert.NotEmpty(t, env.MsgID)

	env.V = 99
	assert.Error(t, env.ValidateBasic())
	assert.Error(t, Envelope{V: FeedVersion, MsgID: "x"}.ValidateBasic())
	assert.Error(t, Envelope{V: FeedVersion, Type: "x"}.ValidateBasic())

	var snap Snapshot
	assert.Error(t, Envelope{}.DecodePayload(&snap))
}
