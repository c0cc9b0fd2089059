package websocket

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeMirror struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (m *fakeMirror) SetUserOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, userID)
	return nil
}

func (m *fakeMirror) SetUserOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, userID)
	return nil
}

func (m *fakeMirror) offlineUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.offline...)
}

func TestTickDemotesSilentConnections(t *testing.T) {
	tc := newTestCore(testOptions())
	mirror := &fakeMirror{}
	reaper := NewReaper(tc.presence, tc.rooms, tc.conns, tc.dedup, mirror, tc.opts)

	silent := tc.connect(t, "c1", "u-silent", "gryffindor", "harry", false)
	active := tc.connect(t, "c2", "u-active", "slytherin", "draco", false)

	// Only the silent user's lastSeen falls behind.
	tc.presence.now = func() time.Time { return time.Now().Add(tc.opts.SilenceTimeout + time.Minute) }
	tc.presence.Heartbeat("u-active")

	reaper.Tick()
	tc.presence.now = time.Now

	if tc.presence.IsOnline("u-silent") {
		t.Error("silent user must be demoted to offline")
	}
	if !tc.presence.IsOnline("u-active") {
		t.Error("active user must survive the sweep")
	}
	if !silent.isClosed() {
		t.Error("demoted connection must be closed")
	}
	if active.isClosed() {
		t.Error("active connection must not be closed")
	}
	if _, ok := tc.conns.Get("c1"); ok {
		t.Error("demoted connection handle must be removed")
	}
	if tc.rooms.Contains(HouseRoom("gryffindor"), "c1") {
		t.Error("demoted connection must leave its rooms")
	}

	offline := mirror.offlineUsers()
	if len(offline) != 1 || offline[0] != "u-silent" {
		t.Errorf("mirror should record exactly the demoted user, got %v", offline)
	}
}

func TestTickDeletesLongOfflineRecords(t *testing.T) {
	tc := newTestCore(testOptions())
	reaper := NewReaper(tc.presence, tc.rooms, tc.conns, tc.dedup, nil, tc.opts)

	tc.connect(t, "c1", "u-old", "hufflepuff", "old", false)
	tc.gateway.OnDisconnect("c1", "gone")
	time.Sleep(3 * tc.opts.OfflineGrace)

	tc.presence.now = func() time.Time { return time.Now().Add(tc.opts.OfflineRetention + time.Hour) }
	reaper.Tick()
	tc.presence.now = time.Now

	if tc.presence.Len() != 0 {
		t.Error("records offline beyond retention must be deleted")
	}
}

func TestTickPurgesExpiredDedupEntries(t *testing.T) {
	tc := newTestCore(testOptions())
	reaper := NewReaper(tc.presence, tc.rooms, tc.conns, tc.dedup, nil, tc.opts)

	tc.dedup.Record("k1")
	tc.dedup.now = func() time.Time { return time.Now().Add(tc.opts.DedupHorizon + time.Minute) }
	reaper.Tick()
	tc.dedup.now = time.Now

	if tc.dedup.Len() != 0 {
		t.Error("expired dedup entries must be purged by the sweep")
	}
}

func TestReaperStartStopIsIdempotent(t *testing.T) {
	tc := newTestCore(testOptions())
	opts := tc.opts
	opts.ReaperInterval = 5 * time.Millisecond
	reaper := NewReaper(tc.presence, tc.rooms, tc.conns, tc.dedup, nil, opts)

	reaper.Start()
	reaper.Start()
	time.Sleep(20 * time.Millisecond)
	reaper.Stop()
	reaper.Stop()

	// Stop then restart works on the same instance.
	reaper.Start()
	reaper.Stop()
}
