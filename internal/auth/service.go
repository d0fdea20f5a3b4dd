package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	httperrors "gitea.jw6.us/james/dialer/internal/http/errors"
	"gitea.jw6.us/james/dialer/internal/store"
)

const (
	// Issuer is the iss claim of tokens minted by this service.
	Issuer = "dialer"
	// DefaultTokenTTL is the lifetime of issued tokens.
	DefaultTokenTTL = 24 * time.Hour
	// MinSecretLength is the minimum HMAC key length.
	MinSecretLength = 32
)

var (
	ErrInvalidCredentials = errors.New("invalid device credentials")
	ErrInvalidToken       = errors.New("invalid bearer token")
)

// Claims are the JWT claims of a device token.
type Claims struct {
	Device string `json:"device"`
	jwt.RegisteredClaims
}

// Service authenticates devices and API requests.
type Service struct {
	devices  store.DeviceRepository
	secret   []byte
	ttl      time.Duration
	verifier *oidc.IDTokenVerifier
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithOIDCVerifier additionally accepts ID tokens from an OIDC provider.
func WithOIDCVerifier(v *oidc.IDTokenVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(devices store.DeviceRepository, secret string, opts ...Option) (*Service, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters long (got %d)", MinSecretLength, len(secret))
	}
	s := &Service{
		devices: devices,
		secret:  []byte(secret),
		ttl:     DefaultTokenTTL,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewOIDCVerifier discovers issuerURL and returns a verifier for clientID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// HashSecret bcrypt-hashes a device secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// RegisterDevice stores a new device credential.
func (s *Service) RegisterDevice(ctx context.Context, name, secret string) (*store.Device, error) {
	name = strings.TrimSpace(name)
	if name == "" || secret == "" {
		return nil, errors.New("device name and secret are required")
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	return s.devices.Create(ctx, name, hash)
}

// IssueToken verifies a device credential and mints a signed token for it.
func (s *Service) IssueToken(ctx context.Context, name, secret string) (string, time.Time, error) {
	device, err := s.devices.GetByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte(secret)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Device: device.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   device.Name,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	if err := s.devices.TouchLastUsed(ctx, device.ID); err != nil {
		s.logger.Warn("failed to record device use", zap.String("device", device.Name), zap.Error(err))
	}
	return signed, expires, nil
}

// Authenticate resolves a bearer token to a principal. Service tokens are
// tried first, then OIDC ID tokens when a verifier is configured.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, ErrInvalidToken
	}
	p, err := s.parseDeviceToken(raw)
	if err == nil {
		return p, nil
	}
	if s.verifier == nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	idToken, oidcErr := s.verifier.Verify(ctx, raw)
	if oidcErr != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, oidcErr)
	}
	return Principal{Subject: idToken.Subject, Source: SourceOIDC}, nil
}

func (s *Service) parseDeviceToken(raw string) (Principal, error) {
	// Time-based claims are checked below against the service clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims Claims
	token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	now := s.now()
	switch {
	case !token.Valid:
		return Principal{}, errors.New("invalid signature")
	case !claims.VerifyIssuer(Issuer, true):
		return Principal{}, errors.New("unexpected issuer")
	case !claims.VerifyExpiresAt(now, true):
		return Principal{}, errors.New("token expired")
	case !claims.VerifyNotBefore(now, false):
		return Principal{}, errors.New("token not valid yet")
	}
	return Principal{Subject: claims.Device, Source: SourceDevice}, nil
}

// RequireToken rejects requests without a valid bearer token and stores the
// principal in the request context.
func (s *Service) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			httperrors.Unauthorized(w, r, errors.New("missing bearer token"))
			return
		}
		p, err := s.Authenticate(r.Context(), raw)
		if err != nil {
			httperrors.Unauthorized(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleToken exchanges HTTP Basic device credentials for a bearer token.
func (s *Service) HandleToken(w http.ResponseWriter, r *http.Request) {
	name, secret, ok := r.BasicAuth()
	if !ok || name == "" || secret == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="dialer"`)
		httperrors.Error(w, http.StatusUnauthorized, "device credentials required")
		return
	}
	token, expires, err := s.IssueToken(r.Context(), name, secret)
	if errors.Is(err, ErrInvalidCredentials) {
		httperrors.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to issue token")
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, tokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expires})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
