// Package careapi talks to the care REST API: upcoming doses, mark-as-taken and
// medication registration.
package careapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
	"github.com/gmsas95/careclock-cli/internal/medication"
	"github.com/gmsas95/careclock-cli/internal/metrics"
	"github.com/gmsas95/careclock-cli/internal/security"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Endpoint names used for metrics and logs
const (
	EndpointUpcoming  = "doses.upcoming"
	EndpointTaken     = "doses.taken"
	EndpointCreateMed = "medications.create"
	EndpointUpdateMed = "medications.update"
)

// APIError is a non-2xx response. Message is the body text, or a generic message when
// the body is empty.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("Request failed with status %d", e.StatusCode)
}

// Temporary reports whether the server side failed and a retry may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client is safe for concurrent use
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mostly for tests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLimiter overrides the limiter derived from the config
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New builds a client from the api config section
func New(cfg config.APIConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apperrors.ErrBaseURLMissing
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "invalid api.base_url")
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  zap.NewNop(),
	}

	if cfg.OAuth2.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
		c.http = oauth2.NewClient(ctx, cc.TokenSource(ctx))
		c.http.Timeout = timeout
		c.token = ""
	}

	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "care-api",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// 4xx means the API is up and answering
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c, nil
}

// BaseURL is the normalised API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UpcomingDoses lists the doses of a care recipient. Status values are passed through
// as reported; due timestamps that do not parse fail the whole call.
func (c *Client) UpcomingDoses(ctx context.Context, careRecipientID string) ([]dose.Dose, error) {
	var doses []dose.Dose
	path := "/care-recipients/" + url.PathEscape(careRecipientID) + "/doses/upcoming"
	if err := c.doJSON(ctx, EndpointUpcoming, http.MethodGet, path, nil, &doses); err != nil {
		return nil, err
	}
	if doses == nil {
		doses = []dose.Dose{}
	}
	return doses, nil
}

type markTakenRequest struct {
	MedicationID string `json:"medicationId"`
	DueAt        string `json:"dueAt"`
}

// MarkTaken records that the dose of medicationID due at dueAt was taken
func (c *Client) MarkTaken(ctx context.Context, careRecipientID, medicationID string, dueAt time.Time) error {
	path := "/care-recipients/" + url.PathEscape(careRecipientID) + "/doses/taken"
	body := markTakenRequest{
		MedicationID: medicationID,
		DueAt:        dose.FormatInstant(dueAt),
	}
	return c.doJSON(ctx, EndpointTaken, http.MethodPost, path, body, nil)
}

// CreateMedication registers a medication built by medication.Form
func (c *Client) CreateMedication(ctx context.Context, p medication.Payload) error {
	return c.doJSON(ctx, EndpointCreateMed, http.MethodPost, "/medications", p, nil)
}

type activeRequest struct {
	Active bool `json:"active"`
}

// SetMedicationActive toggles whether a medication produces actionable doses
func (c *Client) SetMedicationActive(ctx context.Context, medicationID string, active bool) error {
	path := "/medications/" + url.PathEscape(medicationID)
	return c.doJSON(ctx, EndpointUpdateMed, http.MethodPatch, path, activeRequest{Active: active}, nil)
}

func (c *Client) doJSON(ctx context.Context, endpoint, method, path string, in, out any) error {
	start := time.Now()
	raw, err := c.execute(ctx, method, path, in)
	c.metrics.ObserveAPIRequest(endpoint, outcome(err), time.Since(start))

	if err != nil {
		c.logger.Debug("Care API request failed",
			zap.String("endpoint", endpoint),
			zap.String("method", method),
			zap.Error(err),
		)
		return classify(endpoint, err)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		if errors.Is(err, dose.ErrInvalidTimestamp) {
			return apperrors.Wrap(err, apperrors.ErrInvalidTimestamp.Code, endpoint+": invalid due timestamp")
		}
		return apperrors.Wrap(err, apperrors.ErrAPIRequest.Code, endpoint+": decode response")
	}
	return nil
}

func (c *Client) execute(ctx context.Context, method, path string, in any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", errRateLimited, err)
		}
	}

	return c.breaker.Execute(func() ([]byte, error) {
		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return nil, fmt.Errorf("marshal json: %w", err)
			}
			body = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Body:       security.RedactSecrets(strings.TrimSpace(string(raw))),
			}
		}
		return raw, nil
	})
}

var errRateLimited = errors.New("rate limiter")

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests), errors.Is(err, errRateLimited):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// classify maps transport failures to AppError codes and keeps *APIError reachable
// through errors.As.
func classify(endpoint string, err error) error {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apperrors.Wrap(apiErr, apperrors.ErrAPIRequest.Code, endpoint)
	case errors.Is(err, errRateLimited):
		return apperrors.Wrap(err, apperrors.ErrRateLimited.Code, endpoint)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.Wrap(err, apperrors.ErrAPIUnavailable.Code, endpoint+": circuit open")
	default:
		return apperrors.Wrap(err, apperrors.ErrAPIUnavailable.Code, endpoint)
	}
}

// Retryable reports whether err may go away on its own: transport failures, an open
// breaker, 5xx and 429 responses.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrAPIUnavailable.Code, apperrors.ErrRateLimited.Code:
		return true
	}
	return false
}

// Message is the text to show a user for err: the API body when there is one
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Cause.Error()
	}
	return err.Error()
}
