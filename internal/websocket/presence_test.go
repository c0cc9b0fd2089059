package websocket

import (
	"testing"
	"time"
)

func TestAuthenticateSetsOnlineAndConnection(t *testing.T) {
	p := NewPresenceRegistry()

	p.Authenticate("u1", "harry", "gryffindor", false, "conn-1")

	if !p.IsOnline("u1") {
		t.Error("user should be online after authenticate")
	}
	connID, ok := p.LookupConnection("u1")
	if !ok || connID != "conn-1" {
		t.Errorf("expected connection conn-1, got %q (ok=%v)", connID, ok)
	}
	rec, ok := p.Record("u1")
	if !ok {
		t.Fatal("presence record should exist")
	}
	if rec.Username != "harry" || rec.House != "gryffindor" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.LastSeen.IsZero() || rec.ConnectedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestReauthenticationMostRecentWins(t *testing.T) {
	p := NewPresenceRegistry()

	p.Authenticate("u1", "harry", "gryffindor", false, "conn-1")
	p.Authenticate("u1", "harry", "gryffindor", false, "conn-2")

	connID, _ := p.LookupConnection("u1")
	if connID != "conn-2" {
		t.Errorf("most recent authentication should win, got %q", connID)
	}
	if _, ok := p.UserForConnection("conn-1"); ok {
		t.Error("superseded connection should no longer resolve")
	}
}

func TestStaleDisconnectDoesNotClobberNewSession(t *testing.T) {
	p := NewPresenceRegistry()

	p.Authenticate("u1", "harry", "gryffindor", false, "conn-1")
	p.Authenticate("u1", "harry", "gryffindor", false, "conn-2")

	if _, ok := p.MarkOffline("conn-1"); ok {
		t.Error("stale disconnect must be a no-op")
	}
	if !p.IsOnline("u1") {
		t.Error("user should stay online after stale disconnect")
	}

	userID, ok := p.MarkOffline("conn-2")
	if !ok || userID != "u1" {
		t.Errorf("current connection disconnect should transition, got (%q, %v)", userID, ok)
	}
	if p.IsOnline("u1") {
		t.Error("user should be offline")
	}
}

func TestHeartbeatUnknownUserIsIgnored(t *testing.T) {
	p := NewPresenceRegistry()

	p.Heartbeat("ghost")

	if p.Len() != 0 {
		t.Error("heartbeat must not create records")
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	p := NewPresenceRegistry()
	base := time.Now()
	p.now = func() time.Time { return base }

	p.Authenticate("u1", "harry", "gryffindor", false, "conn-1")

	p.now = func() time.Time { return base.Add(30 * time.Second) }
	p.Heartbeat("u1")

	rec, _ := p.Record("u1")
	if !rec.LastSeen.Equal(base.Add(30 * time.Second)) {
		t.Errorf("lastSeen not refreshed: %v", rec.LastSeen)
	}
}

func TestSweepDemotesSilentConnections(t *testing.T) {
	p := NewPresenceRegistry()
	base := time.Now()
	p.now = func() time.Time { return base }

	p.Authenticate("u1", "harry", "gryffindor", false, "conn-1")
	p.Authenticate("u2", "ron", "gryffindor", false, "conn-2")
	p.now = func() time.Time { return base.Add(time.Minute) }
	p.Heartbeat("u2")

	p.now = func() time.Time { return base.Add(3 * time.Minute) }
	demoted, deleted := p.Sweep(2*time.Minute, 24*time.Hour, 0)

	if len(demoted) != 1 || demoted[0].UserID != "u1" || demoted[0].ConnectionID != "conn-1" {
		t.Errorf("expected u1/conn-1 demoted, got %+v", demoted)
	}
	if deleted != 0 {
		t.Errorf("expected no deletions, got %d", deleted)
	}
	if p.IsOnline("u1") {
		t.Error("u1 should be offline after sweep")
	}
	if _, ok := p.LookupConnection("u1"); ok {
		t.Error("u1 connection index entry should be removed")
	}
	if !p.IsOnline("u2") {
		t.Error("u2 heartbeated recently and should stay online")
	}
}

func TestSweepDeletesLongOfflineRecords(t *testing.T) {
	p := NewPresenceRegistry()
	base := time.Now()
	p.now = func() time.Time { return base }

	p.Authenticate("u1", "harry", "gryffindor", false, "conn-1")
	p.MarkOffline("conn-1")

	p.now = func() time.Time { return base.Add(25 * time.Hour) }
	_, deleted := p.Sweep(2*time.Minute, 24*time.Hour, 0)

	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}
	if p.Len() != 0 {
		t.Error("record should be gone")
	}
}

func TestSweepBatchLimit(t *testing.T) {
	p := NewPresenceRegistry()
	base := time.Now()
	p.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		p.Authenticate(string(rune('a'+i)), "", "muggle", false, "conn-"+string(rune('a'+i)))
	}

	p.now = func() time.Time { return base.Add(time.Hour) }
	demoted, _ := p.Sweep(2*time.Minute, 24*time.Hour, 3)

	if len(demoted) != 3 {
		t.Errorf("batch limit should cap sweep at 3, got %d", len(demoted))
	}
}

func TestOnlineUsersHouseFilter(t *testing.T) {
	p := NewPresenceRegistry()
	p.Authenticate("u1", "harry", "gryffindor", false, "conn-1")
	p.Authenticate("u2", "draco", "slytherin", false, "conn-2")
	p.Authenticate("u3", "ron", "gryffindor", false, "conn-3")
	p.MarkOffline("conn-3")

	all := p.OnlineUsers("")
	if len(all) != 2 {
		t.Errorf("expected 2 online users, got %d", len(all))
	}
	gryf := p.OnlineUsers("gryffindor")
	if len(gryf) != 1 || gryf[0].UserID != "u1" {
		t.Errorf("expected only u1 in gryffindor, got %+v", gryf)
	}
}
