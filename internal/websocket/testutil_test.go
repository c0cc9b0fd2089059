package websocket

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn for driving the core without a socket.
type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	full   bool
	broken bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return ErrClientDisconnected
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) SendBestEffort(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken || f.full {
		return false
	}
	f.sent = append(f.sent, data)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// lastEvent decodes the most recently sent envelope.
func (f *fakeConn) lastEvent(t *testing.T) (EventKind, map[string]interface{}) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no events were sent")
	}
	return decodeEvent(t, f.sent[len(f.sent)-1])
}

func decodeEvent(t *testing.T, raw []byte) (EventKind, map[string]interface{}) {
	t.Helper()
	var envelope struct {
		Event EventKind              `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	return envelope.Event, envelope.Data
}

// testCore bundles the registries for tests that drive them directly.
type testCore struct {
	presence   *PresenceRegistry
	rooms      *RoomSet
	conns      *ConnTable
	dedup      *RecencyCache
	dispatcher *Dispatcher
	gateway    *Gateway
	opts       Options
}

func newTestCore(opts Options) *testCore {
	presence := NewPresenceRegistry()
	rooms := NewRoomSet()
	conns := NewConnTable()
	dedup := NewRecencyCache(opts.DedupHorizon)
	dispatcher := NewDispatcher(presence, rooms, conns, dedup, opts)
	gateway := NewGateway(presence, rooms, conns, dispatcher, nil, opts)
	return &testCore{
		presence:   presence,
		rooms:      rooms,
		conns:      conns,
		dedup:      dedup,
		dispatcher: dispatcher,
		gateway:    gateway,
		opts:       opts,
	}
}

// connect registers and authenticates a fake connection in one step.
func (tc *testCore) connect(t *testing.T, connID, userID, house, username string, isAdmin bool) *fakeConn {
	t.Helper()
	c := newFakeConn(connID)
	tc.gateway.OnConnect(c)
	if !tc.gateway.OnAuthenticate(connID, userID, house, username, isAdmin) {
		t.Fatalf("authentication failed for %s", userID)
	}
	return c
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.OfflineGrace = 10 * time.Millisecond
	opts.BatchTimeout = 20 * time.Millisecond
	opts.EphemeralRoomTTL = 20 * time.Millisecond
	return opts
}
