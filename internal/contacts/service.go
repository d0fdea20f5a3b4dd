package contacts

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitea.jw6.us/james/dialer/internal/metrics"
	"gitea.jw6.us/james/dialer/internal/store"
)

// ErrInvalidNumber is returned for numbers with no dialable digits.
var ErrInvalidNumber = errors.New("invalid phone number")

// Service is the address book. It satisfies the switchboard's Screener.
type Service struct {
	contacts store.ContactRepository
	blocked  store.BlockedRepository
	cache    Cache
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables lookup caching.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService builds the address book service.
func NewService(contacts store.ContactRepository, blocked store.BlockedRepository, opts ...Option) *Service {
	s := &Service{contacts: contacts, blocked: blocked, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Import stores every contact in a VCF document and returns how many were saved.
func (s *Service) Import(ctx context.Context, vcf string) (int, error) {
	parsed, err := ParseVCF(vcf)
	if err != nil {
		return 0, err
	}
	saved := 0
	for _, c := range parsed {
		previous, err := s.contacts.GetByUID(ctx, c.UID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return saved, fmt.Errorf("import %s: %w", c.UID, err)
		}
		if _, err := s.contacts.Upsert(ctx, toStore(c)); err != nil {
			return saved, fmt.Errorf("import %s: %w", c.UID, err)
		}
		// Numbers dropped from an existing card must not keep resolving to it.
		if previous != nil {
			s.invalidate(ctx, fromStore(*previous).Phones)
		}
		s.invalidate(ctx, c.Phones)
		saved++
	}
	return saved, nil
}

func (s *Service) List(ctx context.Context, filter string) ([]Contact, error) {
	stored, err := s.contacts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(stored))
	for _, c := range stored {
		out = append(out, fromStore(c))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Contact, error) {
	c, err := s.contacts.GetByID(ctx, id)
	if err != nil {
		return Contact{}, err
	}
	return fromStore(*c), nil
}

// VCard exports a stored contact.
func (s *Service) VCard(ctx context.Context, id int64) (string, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return BuildVCard(c), nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.contacts.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, c.Phones)
	return nil
}

// SetStarred marks or unmarks a favorite.
func (s *Service) SetStarred(ctx context.Context, id int64, starred bool) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.contacts.SetStarred(ctx, id, starred); err != nil {
		return err
	}
	s.invalidate(ctx, c.Phones)
	return nil
}

// Lookup resolves a caller number to a contact. Empty numbers are private.
func (s *Service) Lookup(ctx context.Context, number string) (Match, error) {
	normalized := NormalizeNumber(number)
	if normalized == "" {
		return PrivateMatch, nil
	}

	if s.cache != nil {
		m, ok, err := s.cache.Get(ctx, normalized)
		if err != nil {
			s.logger.Warn("lookup cache read failed", zap.String("number", normalized), zap.Error(err))
		} else if ok {
			metrics.ObserveLookup(true)
			m.Number = number
			return m, nil
		}
		metrics.ObserveLookup(false)
	}

	m := Match{Number: number}
	c, err := s.contacts.FindByNumber(ctx, normalized)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Match{}, err
	default:
		m.Name = c.Name
		m.ContactID = c.ID
		m.Starred = c.Starred
		m.Found = true
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, normalized, m); err != nil {
			s.logger.Warn("lookup cache write failed", zap.String("number", normalized), zap.Error(err))
		}
	}
	return m, nil
}

// Block adds a number to the blocked list.
func (s *Service) Block(ctx context.Context, number string) (string, error) {
	normalized := NormalizeNumber(number)
	if normalized == "" {
		return "", ErrInvalidNumber
	}
	return normalized, s.blocked.Add(ctx, normalized)
}

func (s *Service) Unblock(ctx context.Context, number string) error {
	normalized := NormalizeNumber(number)
	if normalized == "" {
		return ErrInvalidNumber
	}
	return s.blocked.Remove(ctx, normalized)
}

// IsBlocked reports whether calls from number must be declined. Withheld
// numbers are never blocked.
func (s *Service) IsBlocked(ctx context.Context, number string) (bool, error) {
	normalized := NormalizeNumber(number)
	if normalized == "" {
		return false, nil
	}
	return s.blocked.Exists(ctx, normalized)
}

func (s *Service) Blocked(ctx context.Context) ([]store.BlockedNumber, error) {
	return s.blocked.List(ctx)
}

func (s *Service) invalidate(ctx context.Context, phones []Phone) {
	if s.cache == nil || len(phones) == 0 {
		return
	}
	numbers := make([]string, 0, len(phones))
	for _, p := range phones {
		numbers = append(numbers, p.Normalized)
	}
	if err := s.cache.Invalidate(ctx, numbers...); err != nil {
		s.logger.Warn("lookup cache invalidation failed", zap.Error(err))
	}
}
