package feedback

import (
	"context"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMemLogCapacity = 200
	defaultMemLogProfiles = 1000
)

// MemLog keeps the most recent records per profile in memory so they can be
// served back to the client. Older records are discarded once a profile
// exceeds the capacity, and the least recently active profile is forgotten
// once too many profiles are tracked.
type MemLog struct {
	mu       sync.Mutex
	capacity int
	byUser   *lru.Cache[string, []Record]
}

var _ Sink = (*MemLog)(nil)

// MemLogOption configures a [MemLog].
type MemLogOption func(*memLogConfig)

type memLogConfig struct {
	profiles int
}

// WithMaxProfiles bounds the number of profiles tracked. Default: 1000.
func WithMaxProfiles(n int) MemLogOption {
	return func(c *memLogConfig) {
		if n > 0 {
			c.profiles = n
		}
	}
}

// NewMemLog returns a MemLog holding up to capacity records per profile.
// A non-positive capacity uses 200.
func NewMemLog(capacity int, opts ...MemLogOption) *MemLog {
	if capacity <= 0 {
		capacity = defaultMemLogCapacity
	}
	cfg := memLogConfig{profiles: defaultMemLogProfiles}
	for _, o := range opts {
		o(&cfg)
	}
	byUser, err := lru.New[string, []Record](cfg.profiles)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &MemLog{capacity: capacity, byUser: byUser}
}

// Name implements the optional naming interface used for metric labels.
func (m *MemLog) Name() string { return "memory" }

// Append stores rec.
func (m *MemLog) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, _ := m.byUser.Get(rec.Profile)
	recs := append(slices.Clip(prev), rec)
	if over := len(recs) - m.capacity; over > 0 {
		recs = slices.Clone(recs[over:])
	}
	m.byUser.Add(rec.Profile, recs)
	return nil
}

// Recent returns the records stored for profile, newest first.
func (m *MemLog) Recent(profile string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, _ := m.byUser.Peek(profile)
	out := slices.Clone(recs)
	slices.Reverse(out)
	if out == nil {
		out = []Record{}
	}
	return out
}

// Profiles returns the number of profiles currently tracked.
func (m *MemLog) Profiles() int {
	return m.byUser.Len()
}
