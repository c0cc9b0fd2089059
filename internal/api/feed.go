package api

import (
	"sync"
	"time"
)

const feedTTL = 30 * time.Second

// FeedNotification is one entry of the polled notification feed. Clients that
// were offline when the realtime event fired pick it up here.
type FeedNotification struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Timestamp      string    `json:"timestamp"`
	TargetUsers    []string  `json:"targetUsers"`
	HousesAffected []string  `json:"housesAffected"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// ActiveFeed is a short-lived in-memory feed of recent notifications,
// filtered per user on read. Entries expire after 30 seconds; expired entries
// are dropped on every write.
type ActiveFeed struct {
	mu    sync.Mutex
	items []FeedNotification
	now   func() time.Time
}

// NewActiveFeed creates an empty feed.
func NewActiveFeed() *ActiveFeed {
	return &ActiveFeed{now: time.Now}
}

// Add appends a notification and prunes expired ones.
func (f *ActiveFeed) Add(n FeedNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n.ExpiresAt = f.now().Add(feedTTL)
	f.pruneLocked()
	f.items = append(f.items, n)
}

// ActiveFor returns the live notifications targeting a user: entries with no
// targeting at all reach everyone, otherwise either the user id or their
// house has to match.
func (f *ActiveFeed) ActiveFor(userID, house string) []FeedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	out := make([]FeedNotification, 0)
	for _, n := range f.items {
		if n.ExpiresAt.Before(now) {
			continue
		}
		if len(n.TargetUsers) == 0 && len(n.HousesAffected) == 0 {
			out = append(out, n)
			continue
		}
		if contains(n.TargetUsers, userID) || (house != "" && contains(n.HousesAffected, house)) {
			out = append(out, n)
		}
	}
	return out
}

func (f *ActiveFeed) pruneLocked() {
	now := f.now()
	live := f.items[:0]
	for _, n := range f.items {
		if n.ExpiresAt.After(now) {
			live = append(live, n)
		}
	}
	f.items = live
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
