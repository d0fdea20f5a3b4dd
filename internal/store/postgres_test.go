package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

var testTime = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func TestCallLogInsert(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{
				expect: regexp.MustCompile("INSERT INTO call_log"),
				args:   []any{"ext-1", "+15550100", 3, int64(0), "", testTime},
				values: []any{int64(42), testTime},
			},
		},
	}
	s := New(pool)

	rec, err := s.CallLog.Insert(context.Background(), CallRecord{
		ExternalID: "ext-1",
		Number:     "+15550100",
		Type:       3,
		StartedAt:  testTime,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ID != 42 || !rec.CreatedAt.Equal(testTime) {
		t.Fatalf("unexpected record %+v", rec)
	}
	pool.assertDone()
}

func TestCallLogListRecent(t *testing.T) {
	pool := &mockPool{
		t: t,
		rows: []rowsExpectation{
			{
				expect: regexp.MustCompile("ORDER BY started_at DESC, id DESC"),
				args:   []any{"alice", 50},
				rows: [][]any{
					{int64(2), "", "+15550100", 1, int64(65), "Alice", testTime, testTime},
					{int64(1), "ext", "+15550100", 2, int64(5), "Alice", testTime.Add(-time.Hour), testTime},
				},
			},
		},
	}
	s := New(pool)

	recs, err := s.CallLog.ListRecent(context.Background(), "  alice ", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != 2 || recs[1].ExternalID != "ext" || recs[0].Duration != 65 {
		t.Fatalf("unexpected records %+v", recs)
	}
	pool.assertDone()
}

func TestContactUpsertReplacesPhones(t *testing.T) {
	tx := &mockTx{
		queries: []queryExpectation{
			{
				expect: regexp.MustCompile("INSERT INTO contacts AS c"),
				args:   []any{"uid-1", "Alice", "", "", false},
				values: []any{int64(9), "uid-1", "Alice", "", "", true, testTime, testTime},
			},
		},
		execs: []execExpectation{
			{expect: regexp.MustCompile("DELETE FROM contact_phones"), args: []any{int64(9)}},
			{expect: regexp.MustCompile("INSERT INTO contact_phones"), args: []any{int64(9), "+1 555 0100", "cell", "+15550100"}},
		},
	}
	pool := &mockPool{t: t, txs: []*mockTx{tx}}
	s := New(pool)

	saved, err := s.Contacts.Upsert(context.Background(), Contact{
		UID:    "uid-1",
		Name:   "Alice",
		Phones: []Phone{{Number: "+1 555 0100", Label: "cell", Normalized: "+15550100"}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.ID != 9 || !saved.Starred || len(saved.Phones) != 1 {
		t.Fatalf("unexpected contact %+v", saved)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
	pool.assertDone()
	tx.assertDone()
}

func TestContactUpsertRollsBackOnPhoneFailure(t *testing.T) {
	tx := &mockTx{
		queries: []queryExpectation{
			{
				expect: regexp.MustCompile("INSERT INTO contacts"),
				values: []any{int64(9), "uid-1", "Alice", "", "", false, testTime, testTime},
			},
		},
		execs: []execExpectation{
			{expect: regexp.MustCompile("DELETE FROM contact_phones")},
			{expect: regexp.MustCompile("INSERT INTO contact_phones"), err: errors.New("constraint")},
		},
	}
	pool := &mockPool{t: t, txs: []*mockTx{tx}}

	_, err := New(pool).Contacts.Upsert(context.Background(), Contact{
		UID:    "uid-1",
		Name:   "Alice",
		Phones: []Phone{{Number: "1", Normalized: "1"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if tx.committed || !tx.rolled {
		t.Fatal("expected rollback")
	}
}

func TestContactListAttachesPhones(t *testing.T) {
	pool := &mockPool{
		t: t,
		rows: []rowsExpectation{
			{
				expect: regexp.MustCompile("FROM contacts c"),
				args:   []any{""},
				rows: [][]any{
					{int64(1), "a", "Alice", "", "", true, testTime, testTime},
					{int64(2), "b", "Bob", "", "", false, testTime, testTime},
				},
			},
			{
				expect: regexp.MustCompile("FROM contact_phones WHERE contact_id = ANY"),
				args:   []any{[]int64{1, 2}},
				rows: [][]any{
					{int64(1), "+15550100", "cell", "+15550100"},
					{int64(1), "+15550101", "work", "+15550101"},
					{int64(2), "+15550199", "", "+15550199"},
				},
			},
		},
	}

	contacts, err := New(pool).Contacts.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(contacts) != 2 || len(contacts[0].Phones) != 2 || len(contacts[1].Phones) != 1 {
		t.Fatalf("unexpected contacts %+v", contacts)
	}
	pool.assertDone()
}

func TestContactListEmptySkipsPhoneQuery(t *testing.T) {
	pool := &mockPool{
		t:    t,
		rows: []rowsExpectation{{expect: regexp.MustCompile("FROM contacts c")}},
	}
	contacts, err := New(pool).Contacts.List(context.Background(), "zzz")
	if err != nil || len(contacts) != 0 {
		t.Fatalf("expected no contacts, got %v (%v)", contacts, err)
	}
	pool.assertDone()
}

func TestContactGetByIDNotFound(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{expect: regexp.MustCompile("WHERE c.id = \\$1"), args: []any{int64(5)}, err: pgx.ErrNoRows},
		},
	}
	_, err := New(pool).Contacts.GetByID(context.Background(), 5)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContactGetByUIDNotFound(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{expect: regexp.MustCompile("WHERE c.uid = \\$1"), args: []any{"alice"}, err: pgx.ErrNoRows},
		},
	}
	_, err := New(pool).Contacts.GetByUID(context.Background(), "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContactFindByNumber(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{
				expect: regexp.MustCompile("WHERE p.normalized = \\$1"),
				args:   []any{"+15550100"},
				values: []any{int64(3), "c", "Carol", "Acme", "", false, testTime, testTime},
			},
		},
		rows: []rowsExpectation{
			{
				expect: regexp.MustCompile("FROM contact_phones"),
				rows:   [][]any{{int64(3), "+1 (555) 0100", "", "+15550100"}},
			},
		},
	}
	c, err := New(pool).Contacts.FindByNumber(context.Background(), "+15550100")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c.Name != "Carol" || len(c.Phones) != 1 {
		t.Fatalf("unexpected contact %+v", c)
	}
	pool.assertDone()
}

func TestContactDeleteAndStar(t *testing.T) {
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("DELETE FROM contacts"), args: []any{int64(1)}, tag: "DELETE 1"},
			{expect: regexp.MustCompile("DELETE FROM contacts"), args: []any{int64(2)}, tag: "DELETE 0"},
			{expect: regexp.MustCompile("UPDATE contacts SET starred"), args: []any{int64(1), true}, tag: "UPDATE 1"},
			{expect: regexp.MustCompile("UPDATE contacts SET starred"), args: []any{int64(2), false}, tag: "UPDATE 0"},
		},
	}
	s := New(pool)
	ctx := context.Background()

	if err := s.Contacts.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Contacts.Delete(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Contacts.SetStarred(ctx, 1, true); err != nil {
		t.Fatalf("star: %v", err)
	}
	if err := s.Contacts.SetStarred(ctx, 2, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	pool.assertDone()
}

func TestBlockedNumbers(t *testing.T) {
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile("INSERT INTO blocked_numbers"), args: []any{"+15550199"}},
			{expect: regexp.MustCompile("DELETE FROM blocked_numbers"), args: []any{"+15550199"}, tag: "DELETE 1"},
			{expect: regexp.MustCompile("DELETE FROM blocked_numbers"), args: []any{"+15550199"}, tag: "DELETE 0"},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile("SELECT EXISTS \\(SELECT 1 FROM blocked_numbers"), args: []any{"+15550199"}, value: true},
		},
		rows: []rowsExpectation{
			{expect: regexp.MustCompile("FROM blocked_numbers ORDER BY"), rows: [][]any{{"+15550199", testTime}}},
		},
	}
	s := New(pool)
	ctx := context.Background()

	if err := s.Blocked.Add(ctx, "+15550199"); err != nil {
		t.Fatalf("add: %v", err)
	}
	blocked, err := s.Blocked.Exists(ctx, "+15550199")
	if err != nil || !blocked {
		t.Fatalf("expected blocked, got %v (%v)", blocked, err)
	}
	list, err := s.Blocked.List(ctx)
	if err != nil || len(list) != 1 || list[0].Number != "+15550199" {
		t.Fatalf("unexpected list %+v (%v)", list, err)
	}
	if err := s.Blocked.Remove(ctx, "+15550199"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Blocked.Remove(ctx, "+15550199"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	pool.assertDone()
}

func TestDevices(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{expect: regexp.MustCompile("INSERT INTO devices"), args: []any{"pixel", "hash"}, values: []any{int64(1), testTime}},
			{expect: regexp.MustCompile("FROM devices WHERE name"), args: []any{"pixel"}, values: []any{int64(1), "pixel", "hash", testTime, nil}},
			{expect: regexp.MustCompile("FROM devices WHERE name"), args: []any{"ghost"}, err: pgx.ErrNoRows},
		},
		execs: []execExpectation{
			{expect: regexp.MustCompile("UPDATE devices SET last_used_at"), args: []any{int64(1)}},
		},
	}
	s := New(pool)
	ctx := context.Background()

	d, err := s.Devices.Create(ctx, "pixel", "hash")
	if err != nil || d.ID != 1 {
		t.Fatalf("create: %+v (%v)", d, err)
	}
	got, err := s.Devices.GetByName(ctx, "pixel")
	if err != nil || got.SecretHash != "hash" || got.LastUsedAt != nil {
		t.Fatalf("get: %+v (%v)", got, err)
	}
	if _, err := s.Devices.GetByName(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Devices.TouchLastUsed(ctx, 1); err != nil {
		t.Fatalf("touch: %v", err)
	}
	pool.assertDone()
}

func TestHealthCheck(t *testing.T) {
	if err := New(&mockPool{t: t}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}
