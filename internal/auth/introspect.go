package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/commercekit/gateway/internal/observability"
)

// ErrIntrospectionUnavailable indicates that the identity collaborator
// could not be reached or its breaker is open.
var ErrIntrospectionUnavailable = errors.New("identity introspection unavailable")

// introspectionResponse is the identity collaborator's reply.
type introspectionResponse struct {
	Valid       bool     `json:"valid"`
	User        userInfo `json:"user"`
	Permissions []string `json:"permissions"`
}

type userInfo struct {
	ID             string   `json:"id"`
	TenantID       string   `json:"tenantId"`
	Role           string   `json:"role"`
	AllowedTenants []string `json:"allowedTenants,omitempty"`
}

// IntrospectionClient resolves opaque credentials against an identity
// collaborator. The call is guarded by its own circuit breaker so a broken
// identity service cannot pile up blocked validations.
type IntrospectionClient struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// IntrospectionOption is a functional option for the introspection client.
type IntrospectionOption func(*IntrospectionClient)

// WithIntrospectionLogger sets the logger.
func WithIntrospectionLogger(logger observability.Logger) IntrospectionOption {
	return func(c *IntrospectionClient) { c.logger = logger }
}

// WithIntrospectionHTTPClient sets the HTTP client.
func WithIntrospectionHTTPClient(client *http.Client) IntrospectionOption {
	return func(c *IntrospectionClient) { c.client = client }
}

// NewIntrospectionClient creates a new introspection client.
func NewIntrospectionClient(url string, timeout time.Duration, opts ...IntrospectionOption) *IntrospectionClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &IntrospectionClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "identity-introspection",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("introspection breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})

	return c
}

// Introspect resolves a raw credential into a Principal.
func (c *IntrospectionClient) Introspect(ctx context.Context, raw string) (*Principal, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, raw)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrIntrospectionUnavailable, err)
		}
		return nil, err
	}

	resp := result.(*introspectionResponse)
	if !resp.Valid {
		return nil, NewValidationError("introspection rejected credential", ErrInvalidSignature)
	}
	if resp.User.ID == "" || resp.User.Role == "" || resp.User.TenantID == "" {
		return nil, NewValidationError("introspection response incomplete", ErrMissingClaim)
	}

	now := time.Now()
	return &Principal{
		SubjectID:      resp.User.ID,
		Role:           resp.User.Role,
		TenantID:       resp.User.TenantID,
		Permissions:    resp.Permissions,
		AllowedTenants: resp.User.AllowedTenants,
		IssuedAt:       now,
	}, nil
}

func (c *IntrospectionClient) call(ctx context.Context, raw string) (*introspectionResponse, error) {
	body, err := json.Marshal(map[string]string{"token": raw})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospectionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrIntrospectionUnavailable, resp.StatusCode)
	}

	var parsed introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrIntrospectionUnavailable, err)
	}
	return &parsed, nil
}
