package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// callLogRepo implements CallLogRepository.
type callLogRepo struct {
	pool DB
}

func (r *callLogRepo) Insert(ctx context.Context, rec CallRecord) (*CallRecord, error) {
	defer observeDB(ctx, "call_log.insert")()

	const q = `INSERT INTO call_log (external_id, number, call_type, duration_seconds, cached_name, started_at)
VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6)
ON CONFLICT (external_id) DO UPDATE SET
    number = EXCLUDED.number,
    call_type = EXCLUDED.call_type,
    duration_seconds = EXCLUDED.duration_seconds,
    cached_name = EXCLUDED.cached_name,
    started_at = EXCLUDED.started_at
RETURNING id, created_at`

	out := rec
	err := r.pool.QueryRow(ctx, q,
		rec.ExternalID, rec.Number, rec.Type, rec.Duration, rec.CachedName, rec.StartedAt,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert call record: %w", err)
	}
	return &out, nil
}

func (r *callLogRepo) ListRecent(ctx context.Context, filter string, limit int) ([]CallRecord, error) {
	defer observeDB(ctx, "call_log.list_recent")()

	const q = `SELECT id, COALESCE(external_id, ''), number, call_type, duration_seconds, cached_name, started_at, created_at
FROM call_log
WHERE $1 = '' OR number ILIKE '%' || $1 || '%' OR cached_name ILIKE '%' || $1 || '%'
ORDER BY started_at DESC, id DESC
LIMIT $2`

	rows, err := r.pool.Query(ctx, q, strings.TrimSpace(filter), limit)
	if err != nil {
		return nil, fmt.Errorf("list call log: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.ID, &rec.ExternalID, &rec.Number, &rec.Type, &rec.Duration, &rec.CachedName, &rec.StartedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// contactRepo implements ContactRepository.
type contactRepo struct {
	pool DB
}

const contactColumns = `c.id, c.uid, c.name, c.org, c.email, c.starred, c.created_at, c.updated_at`

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.UID, &c.Name, &c.Org, &c.Email, &c.Starred, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert stores the contact keyed by UID and replaces its phone numbers.
// An existing contact keeps its starred flag.
func (r *contactRepo) Upsert(ctx context.Context, contact Contact) (*Contact, error) {
	defer observeDB(ctx, "contacts.upsert")()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin contact upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `INSERT INTO contacts AS c (uid, name, org, email, starred)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (uid) DO UPDATE SET
    name = EXCLUDED.name,
    org = EXCLUDED.org,
    email = EXCLUDED.email,
    updated_at = NOW()
RETURNING ` + contactColumns

	saved, err := scanContact(tx.QueryRow(ctx, upsert,
		contact.UID, contact.Name, contact.Org, contact.Email, contact.Starred,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert contact %s: %w", contact.UID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM contact_phones WHERE contact_id = $1`, saved.ID); err != nil {
		return nil, fmt.Errorf("clear phones for contact %d: %w", saved.ID, err)
	}
	for _, p := range contact.Phones {
		const insertPhone = `INSERT INTO contact_phones (contact_id, number, label, normalized) VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, insertPhone, saved.ID, p.Number, p.Label, p.Normalized); err != nil {
			return nil, fmt.Errorf("insert phone for contact %d: %w", saved.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit contact upsert: %w", err)
	}
	saved.Phones = append([]Phone(nil), contact.Phones...)
	return saved, nil
}

func (r *contactRepo) List(ctx context.Context, filter string) ([]Contact, error) {
	defer observeDB(ctx, "contacts.list")()

	q := `SELECT ` + contactColumns + `
FROM contacts c
WHERE $1 = '' OR c.name ILIKE '%' || $1 || '%'
    OR EXISTS (SELECT 1 FROM contact_phones p WHERE p.contact_id = c.id AND p.normalized LIKE '%' || $1 || '%')
ORDER BY c.starred DESC, lower(c.name), c.id`

	rows, err := r.pool.Query(ctx, q, strings.TrimSpace(filter))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	if len(contacts) == 0 {
		return contacts, nil
	}

	ids := make([]int64, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	phones, err := r.phonesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		contacts[i].Phones = phones[contacts[i].ID]
	}
	return contacts, nil
}

func (r *contactRepo) GetByID(ctx context.Context, id int64) (*Contact, error) {
	defer observeDB(ctx, "contacts.get_by_id")()

	c, err := scanContact(r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts c WHERE c.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r.withPhones(ctx, c)
}

func (r *contactRepo) GetByUID(ctx context.Context, uid string) (*Contact, error) {
	defer observeDB(ctx, "contacts.get_by_uid")()

	c, err := scanContact(r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts c WHERE c.uid = $1`, uid))
	if err != nil {
		return nil, notFound(err)
	}
	return r.withPhones(ctx, c)
}

// FindByNumber returns the contact owning a normalized number, preferring
// starred contacts when several share it.
func (r *contactRepo) FindByNumber(ctx context.Context, normalized string) (*Contact, error) {
	defer observeDB(ctx, "contacts.find_by_number")()

	const q = `SELECT ` + contactColumns + `
FROM contacts c
JOIN contact_phones p ON p.contact_id = c.id
WHERE p.normalized = $1
ORDER BY c.starred DESC, c.id
LIMIT 1`
	c, err := scanContact(r.pool.QueryRow(ctx, q, normalized))
	if err != nil {
		return nil, notFound(err)
	}
	return r.withPhones(ctx, c)
}

func (r *contactRepo) Delete(ctx context.Context, id int64) error {
	defer observeDB(ctx, "contacts.delete")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *contactRepo) SetStarred(ctx context.Context, id int64, starred bool) error {
	defer observeDB(ctx, "contacts.set_starred")()

	tag, err := r.pool.Exec(ctx, `UPDATE contacts SET starred = $2, updated_at = NOW() WHERE id = $1`, id, starred)
	if err != nil {
		return fmt.Errorf("star contact %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *contactRepo) withPhones(ctx context.Context, c *Contact) (*Contact, error) {
	phones, err := r.phonesFor(ctx, []int64{c.ID})
	if err != nil {
		return nil, err
	}
	c.Phones = phones[c.ID]
	return c, nil
}

func (r *contactRepo) phonesFor(ctx context.Context, ids []int64) (map[int64][]Phone, error) {
	const q = `SELECT contact_id, number, label, normalized FROM contact_phones WHERE contact_id = ANY($1) ORDER BY contact_id, id`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("list phones: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Phone, len(ids))
	for rows.Next() {
		var (
			contactID int64
			p         Phone
		)
		if err := rows.Scan(&contactID, &p.Number, &p.Label, &p.Normalized); err != nil {
			return nil, fmt.Errorf("scan phone: %w", err)
		}
		out[contactID] = append(out[contactID], p)
	}
	return out, rows.Err()
}

// blockedRepo implements BlockedRepository.
type blockedRepo struct {
	pool DB
}

func (r *blockedRepo) Add(ctx context.Context, number string) error {
	defer observeDB(ctx, "blocked.add")()

	if _, err := r.pool.Exec(ctx, `INSERT INTO blocked_numbers (number) VALUES ($1) ON CONFLICT (number) DO NOTHING`, number); err != nil {
		return fmt.Errorf("block %s: %w", number, err)
	}
	return nil
}

func (r *blockedRepo) Remove(ctx context.Context, number string) error {
	defer observeDB(ctx, "blocked.remove")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM blocked_numbers WHERE number = $1`, number)
	if err != nil {
		return fmt.Errorf("unblock %s: %w", number, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *blockedRepo) Exists(ctx context.Context, number string) (bool, error) {
	defer observeDB(ctx, "blocked.exists")()

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blocked_numbers WHERE number = $1)`, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("check blocked %s: %w", number, err)
	}
	return exists, nil
}

func (r *blockedRepo) List(ctx context.Context) ([]BlockedNumber, error) {
	defer observeDB(ctx, "blocked.list")()

	rows, err := r.pool.Query(ctx, `SELECT number, created_at FROM blocked_numbers ORDER BY created_at DESC, number`)
	if err != nil {
		return nil, fmt.Errorf("list blocked numbers: %w", err)
	}
	defer rows.Close()

	var out []BlockedNumber
	for rows.Next() {
		var b BlockedNumber
		if err := rows.Scan(&b.Number, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blocked number: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// deviceRepo implements DeviceRepository.
type deviceRepo struct {
	pool DB
}

func (r *deviceRepo) Create(ctx context.Context, name, secretHash string) (*Device, error) {
	defer observeDB(ctx, "devices.create")()

	d := Device{Name: name, SecretHash: secretHash}
	const q = `INSERT INTO devices (name, secret_hash) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET secret_hash = EXCLUDED.secret_hash
RETURNING id, created_at`
	if err := r.pool.QueryRow(ctx, q, name, secretHash).Scan(&d.ID, &d.CreatedAt); err != nil {
		return nil, fmt.Errorf("create device %s: %w", name, err)
	}
	return &d, nil
}

func (r *deviceRepo) GetByName(ctx context.Context, name string) (*Device, error) {
	defer observeDB(ctx, "devices.get_by_name")()

	var d Device
	const q = `SELECT id, name, secret_hash, created_at, last_used_at FROM devices WHERE name = $1`
	if err := r.pool.QueryRow(ctx, q, name).Scan(&d.ID, &d.Name, &d.SecretHash, &d.CreatedAt, &d.LastUsedAt); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *deviceRepo) TouchLastUsed(ctx context.Context, id int64) error {
	defer observeDB(ctx, "devices.touch_last_used")()

	if _, err := r.pool.Exec(ctx, `UPDATE devices SET last_used_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch device %d: %w", id, err)
	}
	return nil
}
