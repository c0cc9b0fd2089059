package websocket

import "time"

// Options holds the tunables of the realtime core. The defaults mirror the
// empirically tuned values of the production deployment; deployments override
// them through the config layer.
type Options struct {
	// Batch flush behavior per room.
	MaxBatchSize int
	BatchTimeout time.Duration

	// Dedup cache horizon and per-use suppression windows.
	DedupHorizon            time.Duration
	PointDedupWindow        time.Duration
	NotificationDedupWindow time.Duration

	// Admin-excluding house fan-out: at or below the threshold recipients are
	// unicast individually, above it an ephemeral room is used and torn down
	// after the TTL.
	UnicastThreshold int
	EphemeralRoomTTL time.Duration

	// Disconnect handling: offline transition is deferred by the grace
	// window so a page refresh does not flap presence.
	OfflineGrace time.Duration

	// Reaper schedule and thresholds.
	ReaperInterval   time.Duration
	SilenceTimeout   time.Duration
	OfflineRetention time.Duration
	ReaperBatchLimit int

	// Usernames granted admin regardless of their stored role.
	AdminUsers []string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxBatchSize:            10,
		BatchTimeout:            100 * time.Millisecond,
		DedupHorizon:            30 * time.Second,
		PointDedupWindow:        5 * time.Second,
		NotificationDedupWindow: 60 * time.Second,
		UnicastThreshold:        20,
		EphemeralRoomTTL:        5 * time.Second,
		OfflineGrace:            5 * time.Second,
		ReaperInterval:          45 * time.Second,
		SilenceTimeout:          2 * time.Minute,
		OfflineRetention:        24 * time.Hour,
		ReaperBatchLimit:        500,
		AdminUsers:              []string{"hungpro", "vipro"},
	}
}

// IsAdminUser reports whether a username is on the configured admin
// allowlist.
func (o Options) IsAdminUser(username string) bool {
	for _, u := range o.AdminUsers {
		if u == username {
			return true
		}
	}
	return false
}
