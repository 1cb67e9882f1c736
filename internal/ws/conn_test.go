package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/chatmatch/internal/metrics"
)

// newConnTestServer creates a test server that registers each connection
// with the given hub under ids conn-1, conn-2, ... and reads until the
// connection closes.
func newConnTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	var counter atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept error: %v", err)
			return
		}

		n := counter.Add(1)
		client := &Client{
			conn: conn,
			id:   "conn-" + string(rune('0'+n)),
		}
		connCtx := hub.addClient(client)
		defer hub.removeClient(client)

		for {
			select {
			case <-connCtx.Done():
				return
			default:
			}
			_, _, err := conn.Read(r.Context())
			if err != nil {
				return
			}
		}
	}))
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}

// fakeClient registers c with cm without a socket.
func fakeClient(cm *ConnManager, id string) *Client {
	c := &Client{id: id, send: make(chan []byte, sendBufferSize)}
	cm.mu.Lock()
	_, cancel := context.WithCancel(context.Background())
	now := time.Now()
	cm.clients[c] = &connEntry{cancel: cancel, connectedAt: now, lastActive: now}
	cm.mu.Unlock()
	return c
}

func TestConnManagerAddRemove(t *testing.T) {
	cm := NewConnManager()

	client := &Client{id: "test-1"}
	ready := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		client.conn = conn
		close(ready)
		for {
			_, _, err := conn.Read(r.Context())
			if err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	wsConn := dialWS(t, ts.URL)
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("client.conn was not set")
	}

	ctx := cm.Add(client)
	if cm.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", cm.Count())
	}
	if client.send == nil {
		t.Fatal("expected send channel to be initialized")
	}

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled yet")
	default:
	}

	cm.Remove(client)
	if cm.Count() != 0 {
		t.Fatalf("expected 0 connections after remove, got %d", cm.Count())
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled after remove")
	}
}

func TestConnManagerSendBufferFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	cm := NewConnManager(WithMetrics(m))
	client := fakeClient(cm, "slow-consumer")

	for i := 0; i < sendBufferSize; i++ {
		if !cm.Send(client, []byte("msg")) {
			t.Fatalf("send %d should have succeeded", i)
		}
	}

	if cm.Send(client, []byte("overflow")) {
		t.Fatal("expected send to fail when buffer is full")
	}
	if got := cm.Stats().DroppedMessages; got != 1 {
		t.Fatalf("expected 1 dropped message, got %d", got)
	}
	if got := testutil.ToFloat64(m.DroppedEvents); got != 1 {
		t.Fatalf("expected dropped events metric 1, got %v", got)
	}
}

func TestConnManagerSendAfterRemove(t *testing.T) {
	cm := NewConnManager()
	client := fakeClient(cm, "gone")
	cm.Remove(client)

	if cm.Send(client, []byte("late")) {
		t.Fatal("expected send to a removed client to fail")
	}
}

func TestConnManagerConcurrentSend(t *testing.T) {
	hub := NewHub(NewConnManager(), testLogger(t))

	ts := newConnTestServer(t, hub)
	defer ts.Close()

	const numClients = 5
	conns := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conns[i] = dialWS(t, ts.URL)
		defer conns[i].Close(websocket.StatusNormalClosure, "")
	}
	waitFor(t, func() bool { return hub.ClientCount() == numClients })

	const numMessages = 10
	var wg sync.WaitGroup
	for i := 0; i < numMessages; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 1; n <= numClients; n++ {
				hub.Notify("conn-"+string(rune('0'+n)), typingEvent(true))
			}
		}()
	}
	wg.Wait()

	for ci, conn := range conns {
		for mi := 0; mi < numMessages; mi++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _, err := conn.Read(ctx)
			cancel()
			if err != nil {
				t.Fatalf("client %d: read message %d error: %v", ci, mi, err)
			}
		}
	}
}

func TestConnManagerMaxConns(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(NewConnManager(WithMaxConns(1), WithMetrics(m)), testLogger(t))

	ts := newConnTestServer(t, hub)
	defer ts.Close()

	first := dialWS(t, ts.URL)
	defer first.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	second := dialWS(t, ts.URL)
	defer second.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := second.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Fatalf("expected StatusTryAgainLater, got %v", err)
	}

	stats := hub.ConnMgr().Stats()
	if stats.Rejected != 1 || stats.Active != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := testutil.ToFloat64(m.RejectedConns); got != 1 {
		t.Fatalf("expected rejected metric 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.Connections); got != 1 {
		t.Fatalf("expected connections gauge 1, got %v", got)
	}
}

func TestConnManagerShutdown(t *testing.T) {
	hub := NewHub(NewConnManager(), testLogger(t))

	ts := newConnTestServer(t, hub)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return hub.ConnMgr().Count() == 1 })

	hub.ConnMgr().Shutdown()

	if hub.ConnMgr().Count() != 0 {
		t.Fatalf("expected 0 connections after shutdown, got %d", hub.ConnMgr().Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected read to fail after shutdown")
	}
}

func TestConnManagerShutdownRejectsNew(t *testing.T) {
	cm := NewConnManager()
	cm.Shutdown()

	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := cm.Add(&Client{conn: conn, id: "late"})
		select {
		case <-ctx.Done():
		default:
			t.Error("expected context to be cancelled for rejected client")
		}
	}))
	defer ts.Close()

	wsConn := dialWS(t, ts.URL)
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}

	if cm.Count() != 0 {
		t.Fatalf("expected 0 connections after shutdown, got %d", cm.Count())
	}
}

func TestConnManagerDoubleRemove(t *testing.T) {
	cm := NewConnManager()
	client := fakeClient(cm, "test-double")

	cm.Remove(client)
	if cm.Count() != 0 {
		t.Fatalf("expected 0, got %d", cm.Count())
	}

	// Second remove is a no-op.
	cm.Remove(client)
}

func TestConnManagerTouchActivity(t *testing.T) {
	cm := NewConnManager()
	client := fakeClient(cm, "active")

	cm.mu.Lock()
	cm.clients[client].lastActive = time.Now().Add(-time.Hour)
	cm.mu.Unlock()

	cm.TouchActivity(client)

	infos := cm.Clients()
	if len(infos) != 1 || infos[0].ID != "active" {
		t.Fatalf("unexpected clients %+v", infos)
	}
	if infos[0].Idle > time.Minute {
		t.Fatalf("expected activity to be refreshed, idle %v", infos[0].Idle)
	}
}

func TestConnManagerReapIdle(t *testing.T) {
	cm := NewConnManager()
	cm.idleTTL = time.Minute
	hub := NewHub(cm, testLogger(t))

	ts := newConnTestServer(t, hub)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return cm.Count() == 1 })

	cm.mu.Lock()
	for _, entry := range cm.clients {
		entry.lastActive = time.Now().Add(-2 * time.Minute)
	}
	cm.mu.Unlock()

	// reapIdle blocks on the close handshake, so the client must be reading.
	go cm.reapIdle()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected StatusPolicyViolation, got %v", err)
	}
	waitFor(t, func() bool { return cm.Stats().IdleReaped == 1 })
	if cm.Count() != 0 {
		t.Fatalf("expected idle connection to be reaped, got %d", cm.Count())
	}
}
