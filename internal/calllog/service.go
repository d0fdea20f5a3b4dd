package calllog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gitea.jw6.us/james/dialer/internal/store"
)

const (
	DefaultLimit = 200
	MaxLimit     = 1000
)

// Service reads and records call history.
type Service struct {
	repo   store.CallLogRepository
	days   RelativeDays
	now    func() time.Time
	logger *zap.Logger
}

// NewService builds a Service labelling days in loc.
func NewService(repo store.CallLogRepository, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		days:   NewRelativeDays(loc),
		now:    time.Now,
		logger: logger,
	}
}

// List returns grouped display rows for the most recent calls, optionally
// filtered by number or name.
func (s *Service) List(ctx context.Context, filter string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	stored, err := s.repo.ListRecent(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(stored))
	for _, rec := range stored {
		records = append(records, fromStore(rec))
	}

	now := s.now()
	return Rows(Group(records, s.days.At(now)), now), nil
}

// Record persists a finished call.
func (s *Service) Record(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		return errors.New("call record without timestamp")
	}
	saved, err := s.repo.Insert(ctx, store.CallRecord{
		ExternalID: rec.ID,
		Number:     rec.Number,
		Type:       int(rec.Type.Normalize()),
		Duration:   rec.Duration,
		CachedName: rec.CachedName,
		StartedAt:  rec.Timestamp,
	})
	if err != nil {
		return err
	}
	s.logger.Debug("call recorded",
		zap.Int64("id", saved.ID),
		zap.Stringer("type", rec.Type),
	)
	return nil
}

func fromStore(rec store.CallRecord) Record {
	id := rec.ExternalID
	if id == "" {
		id = strconv.FormatInt(rec.ID, 10)
	}
	return Record{
		ID:         id,
		Timestamp:  rec.StartedAt,
		Number:     rec.Number,
		Type:       Type(rec.Type).Normalize(),
		Duration:   rec.Duration,
		CachedName: rec.CachedName,
	}
}
