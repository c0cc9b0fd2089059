package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper periodically demotes silent connections to offline and prunes old
// presence and dedup records. It is the enforcement arm of the presence
// invariant: online records always have a live connection mapping.
type Reaper struct {
	presence *PresenceRegistry
	rooms    *RoomSet
	conns    *ConnTable
	dedup    *RecencyCache
	mirror   StatusMirror
	opts     Options

	stop    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewReaper creates a reaper over the shared registries. mirror may be nil.
func NewReaper(presence *PresenceRegistry, rooms *RoomSet, conns *ConnTable, dedup *RecencyCache, mirror StatusMirror, opts Options) *Reaper {
	return &Reaper{
		presence: presence,
		rooms:    rooms,
		conns:    conns,
		dedup:    dedup,
		mirror:   mirror,
		opts:     opts,
		stop:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling Start on a running reaper is a
// no-op.
func (r *Reaper) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	slog.Info("reaper started", "interval", r.opts.ReaperInterval, "silenceTimeout", r.opts.SilenceTimeout, "retention", r.opts.OfflineRetention)
	go func() {
		ticker := time.NewTicker(r.opts.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Tick()
			case <-r.stop:
				slog.Info("reaper stopped")
				return
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stop)
	r.running = false
	r.stop = make(chan struct{})
}

// Tick runs one bounded sweep: demote stale online records, delete records
// offline beyond the retention window, purge expired dedup entries, and drop
// the demoted connections' room memberships and handles.
func (r *Reaper) Tick() {
	demoted, deleted := r.presence.Sweep(r.opts.SilenceTimeout, r.opts.OfflineRetention, r.opts.ReaperBatchLimit)
	for _, dm := range demoted {
		r.rooms.LeaveAll(dm.ConnectionID)
		if c, ok := r.conns.Get(dm.ConnectionID); ok {
			r.conns.Remove(dm.ConnectionID)
			c.Close()
		}
		r.mirrorOffline(context.Background(), dm.UserID)
	}
	purged := r.dedup.Purge()

	if len(demoted) > 0 || deleted > 0 || purged > 0 {
		slog.Info("reaper sweep", "demoted", len(demoted), "deleted", deleted, "dedupPurged", purged)
	}
}

// mirrorOffline flags a demoted user offline in the external mirror.
func (r *Reaper) mirrorOffline(ctx context.Context, userID string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.SetUserOffline(ctx, userID); err != nil {
		slog.Warn("presence mirror update failed", "userID", userID, "error", err)
	}
}
