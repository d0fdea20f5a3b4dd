package contacts

import (
	"context"
	"errors"
	"testing"

	"gitea.jw6.us/james/dialer/internal/calls"
	"gitea.jw6.us/james/dialer/internal/store"
)

var _ calls.Screener = (*Service)(nil)

type memContacts struct {
	byID    map[int64]store.Contact
	nextID  int64
	lookups int
}

func newMemContacts() *memContacts {
	return &memContacts{byID: make(map[int64]store.Contact)}
}

func (m *memContacts) Upsert(_ context.Context, c store.Contact) (*store.Contact, error) {
	for id, existing := range m.byID {
		if existing.UID == c.UID {
			c.ID = id
			c.Starred = existing.Starred
			m.byID[id] = c
			return &c, nil
		}
	}
	m.nextID++
	c.ID = m.nextID
	m.byID[c.ID] = c
	return &c, nil
}

func (m *memContacts) List(context.Context, string) ([]store.Contact, error) {
	var out []store.Contact
	for i := int64(1); i <= m.nextID; i++ {
		if c, ok := m.byID[i]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memContacts) GetByID(_ context.Context, id int64) (*store.Contact, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *memContacts) GetByUID(_ context.Context, uid string) (*store.Contact, error) {
	for _, c := range m.byID {
		if c.UID == uid {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memContacts) FindByNumber(_ context.Context, normalized string) (*store.Contact, error) {
	m.lookups++
	for _, c := range m.byID {
		for _, p := range c.Phones {
			if p.Normalized == normalized {
				return &c, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (m *memContacts) Delete(_ context.Context, id int64) error {
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memContacts) SetStarred(_ context.Context, id int64, starred bool) error {
	c, ok := m.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Starred = starred
	m.byID[id] = c
	return nil
}

type memBlocked map[string]bool

func (m memBlocked) Add(_ context.Context, n string) error { m[n] = true; return nil }
func (m memBlocked) Remove(_ context.Context, n string) error {
	if !m[n] {
		return store.ErrNotFound
	}
	delete(m, n)
	return nil
}
func (m memBlocked) Exists(_ context.Context, n string) (bool, error) { return m[n], nil }
func (m memBlocked) List(context.Context) ([]store.BlockedNumber, error) {
	var out []store.BlockedNumber
	for n := range m {
		out = append(out, store.BlockedNumber{Number: n})
	}
	return out, nil
}

type memCache struct {
	entries map[string]Match
	err     error
}

func (c *memCache) Get(_ context.Context, n string) (Match, bool, error) {
	if c.err != nil {
		return Match{}, false, c.err
	}
	m, ok := c.entries[n]
	return m, ok, nil
}

func (c *memCache) Set(_ context.Context, n string, m Match) error {
	c.entries[n] = m
	return nil
}

func (c *memCache) Invalidate(_ context.Context, numbers ...string) error {
	for _, n := range numbers {
		delete(c.entries, n)
	}
	return nil
}

const aliceCard = "BEGIN:VCARD\nUID:alice\nFN:Alice\nTEL;TYPE=CELL:+1 555 0100\nEND:VCARD\n"

func TestLookupPrivateNumber(t *testing.T) {
	svc := NewService(newMemContacts(), memBlocked{})
	m, err := svc.Lookup(context.Background(), "  ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !m.Private || m.Label() != calls.PrivateNumberLabel {
		t.Fatalf("expected private match, got %+v", m)
	}
}

func TestLookupUsesCacheIncludingMisses(t *testing.T) {
	repo := newMemContacts()
	cache := &memCache{entries: map[string]Match{}}
	svc := NewService(repo, memBlocked{}, WithCache(cache))
	ctx := context.Background()

	miss, err := svc.Lookup(ctx, "+1 555 0100")
	if err != nil || miss.Found || miss.Label() != "+1 555 0100" {
		t.Fatalf("expected miss, got %+v (%v)", miss, err)
	}
	if _, err := svc.Lookup(ctx, "+15550100"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if repo.lookups != 1 {
		t.Fatalf("expected cached miss to skip the store, got %d lookups", repo.lookups)
	}

	// Importing the number invalidates the negative entry.
	if n, err := svc.Import(ctx, aliceCard); err != nil || n != 1 {
		t.Fatalf("import: %d (%v)", n, err)
	}
	hit, err := svc.Lookup(ctx, "+15550100")
	if err != nil || !hit.Found || hit.Name != "Alice" {
		t.Fatalf("expected hit, got %+v (%v)", hit, err)
	}
	if repo.lookups != 2 {
		t.Fatalf("expected store lookup after invalidation, got %d", repo.lookups)
	}
}

func TestReimportDropsStaleNumbersFromCache(t *testing.T) {
	repo := newMemContacts()
	cache := &memCache{entries: map[string]Match{}}
	svc := NewService(repo, memBlocked{}, WithCache(cache))
	ctx := context.Background()

	if _, err := svc.Import(ctx, aliceCard); err != nil {
		t.Fatalf("import: %v", err)
	}
	if hit, err := svc.Lookup(ctx, "+15550100"); err != nil || !hit.Found {
		t.Fatalf("expected hit, got %+v (%v)", hit, err)
	}

	moved := "BEGIN:VCARD\nUID:alice\nFN:Alice\nTEL;TYPE=CELL:+1 555 0177\nEND:VCARD\n"
	if _, err := svc.Import(ctx, moved); err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if _, ok := cache.entries["+15550100"]; ok {
		t.Fatal("expected the dropped number to be evicted from the cache")
	}
	old, err := svc.Lookup(ctx, "+15550100")
	if err != nil || old.Found {
		t.Fatalf("expected dropped number to miss, got %+v (%v)", old, err)
	}
	if hit, err := svc.Lookup(ctx, "+15550177"); err != nil || !hit.Found || hit.Name != "Alice" {
		t.Fatalf("expected new number to resolve, got %+v (%v)", hit, err)
	}
}

func TestLookupCacheErrorFallsBackToStore(t *testing.T) {
	repo := newMemContacts()
	svc := NewService(repo, memBlocked{}, WithCache(&memCache{entries: map[string]Match{}, err: errors.New("redis down")}))
	if _, err := svc.Import(context.Background(), aliceCard); err != nil {
		t.Fatalf("import: %v", err)
	}
	m, err := svc.Lookup(context.Background(), "+15550100")
	if err != nil || !m.Found {
		t.Fatalf("expected store hit, got %+v (%v)", m, err)
	}
}

func TestStarredAndDelete(t *testing.T) {
	repo := newMemContacts()
	svc := NewService(repo, memBlocked{})
	ctx := context.Background()
	if _, err := svc.Import(ctx, aliceCard); err != nil {
		t.Fatalf("import: %v", err)
	}

	if err := svc.SetStarred(ctx, 1, true); err != nil {
		t.Fatalf("star: %v", err)
	}
	c, err := svc.Get(ctx, 1)
	if err != nil || !c.Starred {
		t.Fatalf("expected starred contact, got %+v (%v)", c, err)
	}

	card, err := svc.VCard(ctx, 1)
	if err != nil {
		t.Fatalf("vcard: %v", err)
	}
	parsed, err := ParseVCF(card)
	if err != nil || len(parsed) != 1 || parsed[0].UID != "alice" || !parsed[0].Starred {
		t.Fatalf("unexpected export %q", card)
	}

	if err := svc.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.SetStarred(ctx, 1, false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlockedNumbers(t *testing.T) {
	svc := NewService(newMemContacts(), memBlocked{})
	ctx := context.Background()

	normalized, err := svc.Block(ctx, "+1 (555) 019-9999")
	if err != nil || normalized != "+15550199999" {
		t.Fatalf("block: %q (%v)", normalized, err)
	}
	blocked, err := svc.IsBlocked(ctx, "+1 555 019 9999")
	if err != nil || !blocked {
		t.Fatalf("expected blocked, got %v (%v)", blocked, err)
	}
	if blocked, _ := svc.IsBlocked(ctx, ""); blocked {
		t.Fatal("withheld numbers are never blocked")
	}
	if _, err := svc.Block(ctx, "---"); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("expected ErrInvalidNumber, got %v", err)
	}
	if err := svc.Unblock(ctx, "+15550199999"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if list, _ := svc.Blocked(ctx); len(list) != 0 {
		t.Fatalf("expected empty list, got %+v", list)
	}
}
