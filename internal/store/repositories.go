package store

import "context"

// CallLogRepository stores the call history.
type CallLogRepository interface {
	// Insert stores a record. Records with a known ExternalID are updated in
	// place so redelivered reports do not duplicate history.
	Insert(ctx context.Context, rec CallRecord) (*CallRecord, error)
	// ListRecent returns records newest first, optionally filtered by a
	// substring of the number or cached name.
	ListRecent(ctx context.Context, filter string, limit int) ([]CallRecord, error)
}

// ContactRepository handles contact storage.
type ContactRepository interface {
	Upsert(ctx context.Context, contact Contact) (*Contact, error)
	List(ctx context.Context, filter string) ([]Contact, error)
	GetByID(ctx context.Context, id int64) (*Contact, error)
	GetByUID(ctx context.Context, uid string) (*Contact, error)
	FindByNumber(ctx context.Context, normalized string) (*Contact, error)
	Delete(ctx context.Context, id int64) error
	SetStarred(ctx context.Context, id int64, starred bool) error
}

// BlockedRepository manages the blocked number list.
type BlockedRepository interface {
	Add(ctx context.Context, number string) error
	Remove(ctx context.Context, number string) error
	Exists(ctx context.Context, number string) (bool, error)
	List(ctx context.Context) ([]BlockedNumber, error)
}

// DeviceRepository handles device credentials.
type DeviceRepository interface {
	Create(ctx context.Context, name, secretHash string) (*Device, error)
	GetByName(ctx context.Context, name string) (*Device, error)
	TouchLastUsed(ctx context.Context, id int64) error
}
