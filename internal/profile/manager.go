package profile

import (
	"fmt"
	"sync"
	"time"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SaveProfile(idx int, dataJSON string) error
	LoadProfile(idx int) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	rec      Record
	cachedAt time.Time
}

// Manager provides cached access to profile records keyed by profile index.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[int]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[int]cacheEntry),
	}
}

// Get returns the record for idx from cache or storage. The caller owns the
// returned copy.
func (m *Manager) Get(idx int) (Record, error) {
	m.mu.RLock()
	if e, ok := m.cache[idx]; ok && m.fresh(e) {
		r := deepCopy(e.rec)
		m.mu.RUnlock()
		return r, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cache[idx]; ok && m.fresh(e) {
		return deepCopy(e.rec), nil
	}

	data, err := m.store.LoadProfile(idx)
	if err != nil {
		return Record{}, fmt.Errorf("loading profile %d: %w", idx, err)
	}
	rec, err := Parse([]byte(data))
	if err != nil {
		return Record{}, fmt.Errorf("parsing profile %d: %w", idx, err)
	}

	m.cache[idx] = cacheEntry{rec: rec, cachedAt: m.clock.Now()}
	return deepCopy(rec), nil
}

// Put persists rec under idx and invalidates its cache entry.
func (m *Manager) Put(idx int, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveProfile(idx, string(data)); err != nil {
		return fmt.Errorf("saving profile %d: %w", idx, err)
	}
	delete(m.cache, idx)
	return nil
}

func (m *Manager) fresh(e cacheEntry) bool {
	return m.clock.Now().Before(e.cachedAt.Add(m.ttl))
}

func deepCopy(r Record) Record {
	cp := r
	cp.Education = make([]Education, len(r.Education))
	for i, e := range r.Education {
		e.Skills = copyStrings(e.Skills)
		cp.Education[i] = e
	}
	cp.WorkExperience = make([]WorkExperience, len(r.WorkExperience))
	for i, e := range r.WorkExperience {
		e.Skills = copyStrings(e.Skills)
		e.Responsibilities = copyStrings(e.Responsibilities)
		cp.WorkExperience[i] = e
	}
	cp.Organizations = make([]Organization, len(r.Organizations))
	for i, o := range r.Organizations {
		o.Skills = copyStrings(o.Skills)
		o.Responsibilities = copyStrings(o.Responsibilities)
		cp.Organizations[i] = o
	}
	cp.Certifications = make([]Certification, len(r.Certifications))
	for i, c := range r.Certifications {
		c.Skills = copyStrings(c.Skills)
		cp.Certifications[i] = c
	}
	cp.Projects = make([]Project, len(r.Projects))
	for i, p := range r.Projects {
		p.Skills = copyStrings(p.Skills)
		cp.Projects[i] = p
	}
	cp.Languages = append([]Language(nil), r.Languages...)
	return cp
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
