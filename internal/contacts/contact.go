// Package contacts manages the address book, caller lookup and the blocked
// number list.
package contacts

import (
	"strings"

	"gitea.jw6.us/james/dialer/internal/calls"
	"gitea.jw6.us/james/dialer/internal/store"
)

// Contact is an address book entry.
type Contact struct {
	ID      int64   `json:"id"`
	UID     string  `json:"uid"`
	Name    string  `json:"name"`
	Org     string  `json:"org,omitempty"`
	Email   string  `json:"email,omitempty"`
	Starred bool    `json:"starred"`
	Phones  []Phone `json:"phones"`
}

// Phone is one number of a contact.
type Phone struct {
	Number     string `json:"number"`
	Label      string `json:"label,omitempty"`
	Normalized string `json:"normalized"`
}

// Match is the result of a caller lookup.
type Match struct {
	Number    string `json:"number"`
	Name      string `json:"name,omitempty"`
	ContactID int64  `json:"contact_id,omitempty"`
	Starred   bool   `json:"starred,omitempty"`
	Found     bool   `json:"found"`
	Private   bool   `json:"private,omitempty"`
}

// Label is the name to show for the caller.
func (m Match) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Number
}

// PrivateMatch is returned for withheld numbers.
var PrivateMatch = Match{Name: calls.PrivateNumberLabel, Private: true}

// NormalizeNumber strips formatting from a dialable number, keeping a
// leading "+".
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toStore(c Contact) store.Contact {
	phones := make([]store.Phone, 0, len(c.Phones))
	for _, p := range c.Phones {
		phones = append(phones, store.Phone{Number: p.Number, Label: p.Label, Normalized: p.Normalized})
	}
	return store.Contact{
		ID:      c.ID,
		UID:     c.UID,
		Name:    c.Name,
		Org:     c.Org,
		Email:   c.Email,
		Starred: c.Starred,
		Phones:  phones,
	}
}

func fromStore(c store.Contact) Contact {
	phones := make([]Phone, 0, len(c.Phones))
	for _, p := range c.Phones {
		phones = append(phones, Phone{Number: p.Number, Label: p.Label, Normalized: p.Normalized})
	}
	return Contact{
		ID:      c.ID,
		UID:     c.UID,
		Name:    c.Name,
		Org:     c.Org,
		Email:   c.Email,
		Starred: c.Starred,
		Phones:  phones,
	}
}
