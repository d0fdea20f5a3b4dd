package store

import "time"

// CallRecord is a finished call reported by the handset.
type CallRecord struct {
	ID         int64
	ExternalID string
	Number     string
	Type       int
	Duration   int64 // seconds
	CachedName string
	StartedAt  time.Time
	CreatedAt  time.Time
}

// Contact is an address book entry with its phone numbers.
type Contact struct {
	ID        int64
	UID       string
	Name      string
	Org       string
	Email     string
	Starred   bool
	Phones    []Phone
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Phone is one number of a contact. Normalized is used for lookups.
type Phone struct {
	Number     string
	Label      string
	Normalized string
}

// BlockedNumber is a normalized number whose incoming calls are declined.
type BlockedNumber struct {
	Number    string
	CreatedAt time.Time
}

// Device is a handset or client allowed to request API tokens.
type Device struct {
	ID         int64
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
