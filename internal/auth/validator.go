package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/commercekit/gateway/internal/observability"
)

// ValidatorConfig holds the settings for credential validation.
type ValidatorConfig struct {
	// Secret is the HMAC signing secret.
	Secret []byte

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Audience, when set, must be present in the token's aud claim.
	Audience string

	// ClockSkew is the tolerance applied to time-based claims.
	ClockSkew time.Duration

	// MaxTokenAge rejects tokens issued longer ago than this, bounding
	// exposure from long-lived leaked credentials. Zero disables the check.
	MaxTokenAge time.Duration

	// CacheTTL bounds how long a verified principal is served without
	// re-verification. Configured shorter than token expiry.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the token cache size.
	CacheMaxEntries int
}

// Validator authenticates bearer credentials into Principals. It owns the
// token cache and consults the revocation store before any other work.
type Validator struct {
	cfg          ValidatorConfig
	cache        *tokenCache
	revocations  RevocationStore
	introspector *IntrospectionClient
	logger       observability.Logger
	metrics      *observability.Metrics

	// nowFunc is overridable in tests.
	nowFunc func() time.Time

	stopCh chan struct{}
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*Validator)

// WithValidatorLogger sets the logger.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = logger }
}

// WithValidatorMetrics sets the metrics sink.
func WithValidatorMetrics(m *observability.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// WithRevocationStore sets the revocation store. Defaults to the in-memory
// store.
func WithRevocationStore(store RevocationStore) ValidatorOption {
	return func(v *Validator) { v.revocations = store }
}

// WithIntrospector sets the identity introspection client consulted for
// opaque (non-JWT) credentials on cache miss.
func WithIntrospector(client *IntrospectionClient) ValidatorOption {
	return func(v *Validator) { v.introspector = client }
}

// NewValidator creates a new credential validator.
func NewValidator(cfg ValidatorConfig, opts ...ValidatorOption) (*Validator, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("validator: signing secret is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	v := &Validator{
		cfg:         cfg,
		cache:       newTokenCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		revocations: NewMemoryRevocations(),
		logger:      observability.NopLogger(),
		nowFunc:     time.Now,
		stopCh:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(v)
	}

	go v.janitor()

	return v, nil
}

// Validate authenticates a raw bearer credential into a Principal.
//
// The order of checks is load-bearing: the structural fast path performs no
// cryptographic work, the revocation set overrides any cache entry, and the
// cache short-circuits signature verification within its TTL.
func (v *Validator) Validate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrNoCredentials
	}

	isJWT := strings.Count(raw, ".") == 2
	if !isJWT && v.introspector == nil {
		return nil, ErrTokenMalformed
	}

	now := v.nowFunc()
	hash := HashToken(raw)

	revoked, err := v.revocations.IsRevoked(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevocationStore, err)
	}
	if revoked {
		v.recordCache("revoked")
		return nil, ErrTokenRevoked
	}

	if p := v.cache.get(hash, now); p != nil {
		if p.IsExpired(now.Add(-v.cfg.ClockSkew)) {
			// The credential itself expired before the cache entry did.
			v.cache.evict(hash)
			return nil, ErrTokenExpired
		}
		v.recordCache("hit")
		return p, nil
	}
	v.recordCache("miss")

	var p *Principal
	if isJWT {
		p, err = v.verifyJWT(raw, now)
	} else {
		p, err = v.introspector.Introspect(ctx, raw)
	}
	if err != nil {
		return nil, err
	}

	v.cache.set(hash, p, now)

	v.logger.Debug("credential verified",
		observability.String("subject", p.SubjectID),
		observability.String("tenant", p.TenantID),
		observability.String("role", p.Role))

	return p, nil
}

// verifyJWT cryptographically verifies the token and extracts the Principal.
func (v *Validator) verifyJWT(raw string, now time.Time) (*Principal, error) {
	parseOpts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.cfg.Secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
	}
	if v.cfg.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.cfg.Audience))
	}

	tok, err := jwt.Parse([]byte(raw), parseOpts...)
	if err != nil {
		var verr jwt.ValidationError
		switch {
		case errors.Is(err, jwt.ErrTokenExpired()):
			return nil, ErrTokenExpired
		case errors.As(err, &verr):
			return nil, NewValidationError("claims validation failed", errors.Join(ErrInvalidClaim, err))
		default:
			return nil, NewValidationError("signature verification failed", ErrInvalidSignature)
		}
	}

	p, err := principalFromToken(tok)
	if err != nil {
		return nil, err
	}

	if v.cfg.MaxTokenAge > 0 && now.Sub(p.IssuedAt) > v.cfg.MaxTokenAge {
		return nil, ErrTokenTooOld
	}

	return p, nil
}

// principalFromToken maps verified claims to a Principal, enforcing
// presence and type of the mandatory custom claims.
func principalFromToken(tok jwt.Token) (*Principal, error) {
	sub := tok.Subject()
	if sub == "" {
		return nil, NewValidationError("sub", ErrMissingClaim)
	}
	if tok.IssuedAt().IsZero() {
		return nil, NewValidationError("iat", ErrMissingClaim)
	}

	tenantID, err := stringClaim(tok, ClaimTenantID)
	if err != nil {
		return nil, err
	}
	role, err := stringClaim(tok, ClaimRole)
	if err != nil {
		return nil, err
	}

	permissions, err := stringListClaim(tok, ClaimPermissions)
	if err != nil {
		return nil, err
	}
	allowedTenants, err := stringListClaim(tok, ClaimAllowedTenants)
	if err != nil {
		return nil, err
	}

	return &Principal{
		SubjectID:      sub,
		Role:           role,
		TenantID:       tenantID,
		Permissions:    permissions,
		AllowedTenants: allowedTenants,
		IssuedAt:       tok.IssuedAt(),
		ExpiresAt:      tok.Expiration(),
	}, nil
}

func stringClaim(tok jwt.Token, name string) (string, error) {
	raw, ok := tok.Get(name)
	if !ok {
		return "", NewValidationError(name, ErrMissingClaim)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", NewValidationError(name, ErrInvalidClaim)
	}
	return s, nil
}

func stringListClaim(tok jwt.Token, name string) ([]string, error) {
	raw, ok := tok.Get(name)
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, NewValidationError(name, ErrInvalidClaim)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, NewValidationError(name, ErrInvalidClaim)
		}
		out = append(out, s)
	}
	return out, nil
}

// Revoke adds the credential's hash to the revocation set and evicts any
// cache entry. Subsequent validations fail immediately, independent of the
// remaining cache TTL.
func (v *Validator) Revoke(ctx context.Context, raw string) error {
	hash := HashToken(raw)
	if err := v.revocations.Revoke(ctx, hash); err != nil {
		return err
	}
	v.cache.evict(hash)
	v.recordCache("evict")
	return nil
}

// InvalidateSubject evicts every cached principal for a subject. Wired to
// role-change events so privilege changes take effect before TTL expiry.
func (v *Validator) InvalidateSubject(subjectID string) int {
	n := v.cache.evictSubject(subjectID)
	if n > 0 {
		v.logger.Info("evicted cached principals for subject",
			observability.String("subject", subjectID),
			observability.Int("entries", n))
	}
	return n
}

// CacheStats returns token cache statistics.
func (v *Validator) CacheStats() CacheStats {
	return v.cache.stats()
}

// Close stops the cache janitor. The revocation store is owned by the
// caller and closed separately.
func (v *Validator) Close() {
	close(v.stopCh)
}

// janitor periodically drops expired cache entries.
func (v *Validator) janitor() {
	interval := v.cfg.CacheTTL
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			if n := v.cache.purgeExpired(v.nowFunc()); n > 0 {
				v.logger.Debug("purged expired cache entries",
					observability.Int("entries", n))
			}
		}
	}
}

func (v *Validator) recordCache(result string) {
	if v.metrics != nil {
		v.metrics.RecordTokenCache(result)
	}
}
