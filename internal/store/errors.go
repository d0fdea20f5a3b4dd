package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("record not found")

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
