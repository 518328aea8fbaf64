package careapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
	"github.com/gmsas95/careclock-cli/internal/medication"
	"github.com/gmsas95/careclock-cli/internal/metrics"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(config.APIConfig{BaseURL: srv.URL + "/", Token: "tok"}, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(config.APIConfig{})
	assert.ErrorIs(t, err, apperrors.ErrBaseURLMissing)

	_, err = New(config.APIConfig{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestUpcomingDoses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/care-recipients/cr-1/doses/upcoming", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[
			{"doseId":"d1","medicationId":"m1","careRecipientId":"cr-1","dueAt":"2024-03-10T08:00:00.000Z","status":"UPCOMING",
			 "medication":{"name":"Metformin","dosage":"500mg","recurrence":"DAILY"}},
			{"doseId":"d2","medicationId":"m1","careRecipientId":"cr-1","dueAt":"2024-03-10T20:00:00Z","status":"TAKEN",
			 "medication":{"name":"Metformin","dosage":"500mg","recurrence":"DAILY","notes":"with food","active":true}}
		]`)
	})

	doses, err := c.UpcomingDoses(context.Background(), "cr-1")
	require.NoError(t, err)
	require.Len(t, doses, 2)
	assert.Equal(t, "d1", doses[0].DoseID)
	assert.True(t, doses[0].DueAt.Equal(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, dose.StatusTaken, doses[1].Status)
	assert.Equal(t, "with food", doses[1].Medication.Notes)
}

func TestUpcomingDoses_EmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `null`)
	})

	doses, err := c.UpcomingDoses(context.Background(), "cr-1")
	require.NoError(t, err)
	assert.NotNil(t, doses)
	assert.Empty(t, doses)
}

func TestUpcomingDoses_InvalidTimestamp(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"doseId":"d1","dueAt":"soon","status":"UPCOMING"}]`)
	})

	_, err := c.UpcomingDoses(context.Background(), "cr-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, dose.ErrInvalidTimestamp)
	assert.Equal(t, apperrors.ErrInvalidTimestamp.Code, apperrors.GetCode(err))
}

func TestMarkTaken(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/care-recipients/cr-1/doses/taken", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	due := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, c.MarkTaken(context.Background(), "cr-1", "m1", due))
	assert.Equal(t, map[string]string{"medicationId": "m1", "dueAt": "2024-03-10T08:00:00.000Z"}, got)
}

func TestCreateMedication(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/medications", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"m9"}`)
	})

	f := medication.NewForm()
	f.Name, f.Dosage = "Ibuprofen", "200mg"
	p, err := f.Build("cr-1")
	require.NoError(t, err)

	require.NoError(t, c.CreateMedication(context.Background(), p))
	assert.Equal(t, "Ibuprofen", got["name"])
	assert.Equal(t, "DAILY", got["recurrence"])
	assert.Nil(t, got["daysOfWeek"])
	assert.Equal(t, true, got["active"])
}

func TestSetMedicationActive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/medications/m1", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"active":false}`, string(body))
	})

	require.NoError(t, c.SetMedicationActive(context.Background(), "m1", false))
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"body text", http.StatusBadRequest, "medicationId is required\n", "medicationId is required"},
		{"empty body", http.StatusNotFound, "", "Request failed with status 404"},
		{"echoed credentials", http.StatusUnauthorized, "bad header Bearer tok-0123456789", "bad header Bearer ****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			err := c.MarkTaken(context.Background(), "cr-1", "m1", time.Now())
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, Message(err))
			assert.Equal(t, apperrors.ErrAPIRequest.Code, apperrors.GetCode(err))
		})
	}
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.UpcomingDoses(context.Background(), "cr-1")
		require.Error(t, err)
	}

	_, err := c.UpcomingDoses(context.Background(), "cr-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrAPIUnavailable.Code, apperrors.GetCode(err))
	assert.Equal(t, int32(5), calls.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	for i := 0; i < 8; i++ {
		_ = c.MarkTaken(context.Background(), "cr-1", "m1", time.Now())
	}
	assert.Equal(t, int32(8), calls.Load())
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}, WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	_, err := c.UpcomingDoses(context.Background(), "cr-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.UpcomingDoses(ctx, "cr-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrRateLimited.Code, apperrors.GetCode(err))
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}, WithMetrics(m))

	_, _ = c.UpcomingDoses(context.Background(), "cr-1")
	_ = c.MarkTaken(context.Background(), "cr-1", "m1", time.Now())

	s, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.RequestsTotal)
	assert.Equal(t, int64(1), s.RequestsFailed)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(classify(EndpointTaken, &APIError{StatusCode: http.StatusServiceUnavailable})))
	assert.True(t, Retryable(classify(EndpointTaken, &APIError{StatusCode: http.StatusTooManyRequests})))
	assert.False(t, Retryable(classify(EndpointTaken, &APIError{StatusCode: http.StatusBadRequest})))
	assert.True(t, Retryable(classify(EndpointTaken, errors.New("connection refused"))))
	assert.False(t, Retryable(apperrors.New(apperrors.ErrMedicationInvalid.Code, "bad")))
}
