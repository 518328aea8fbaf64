package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/careapi"
	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
	"github.com/gmsas95/careclock-cli/internal/medication"
	"github.com/gmsas95/careclock-cli/internal/store"
)

const staleHeader = "X-Careclock-Stale"

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	status := statusFor(err)
	body := fiber.Map{"error": errorMessage(err)}
	if apperrors.IsAppError(err) {
		body["code"] = apperrors.GetCode(err)
	}
	return c.Status(status).JSON(body)
}

func statusFor(err error) int {
	var apiErr *careapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode
		}
		return http.StatusBadGateway
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrDoseNotFound.Code, apperrors.ErrNotFound.Code, apperrors.ErrSnapshotNotFound.Code:
		return http.StatusNotFound
	case apperrors.ErrMedicationInvalid.Code, apperrors.ErrBadRequest.Code, apperrors.ErrInvalidTimestamp.Code:
		return http.StatusBadRequest
	case apperrors.ErrDoseNotActionable.Code:
		return http.StatusConflict
	case apperrors.ErrUnauthorized.Code:
		return http.StatusUnauthorized
	case apperrors.ErrRateLimited.Code:
		return http.StatusTooManyRequests
	case apperrors.ErrAPIUnavailable.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var apiErr *careapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// loadDoses fetches the dose list and refreshes the cache. When the API is unreachable the
// cached list is returned with stale set.
func (s *Server) loadDoses(ctx context.Context) ([]dose.Dose, bool, error) {
	doses, err := s.backend.UpcomingDoses(ctx, s.cid)
	if err == nil {
		if serr := s.store.SaveSnapshot(store.Snapshot{CareRecipientID: s.cid, FetchedAt: s.now(), Doses: doses}); serr != nil {
			s.logger.Warn("Failed to cache dose list", zap.Error(serr))
		}
		return doses, false, nil
	}

	if !careapi.Retryable(err) {
		return nil, false, err
	}
	snap, serr := s.store.LoadSnapshot(s.cid)
	if serr != nil {
		return nil, false, err
	}
	s.logger.Warn("Serving cached dose list", zap.Time("fetched_at", snap.FetchedAt), zap.Error(err))
	return snap.Doses, true, nil
}

func (s *Server) cachedDoses() ([]dose.Dose, error) {
	snap, err := s.store.LoadSnapshot(s.cid)
	if err != nil {
		return nil, err
	}
	return snap.Doses, nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":            "healthy",
		"version":           Version,
		"care_recipient_id": s.cid,
		"timestamp":         time.Now().Unix(),
	})
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	snap, err := s.metrics.Snapshot()
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *Server) handleListDoses(c *fiber.Ctx) error {
	var (
		doses []dose.Dose
		stale bool
		err   error
	)
	if c.QueryBool("offline") {
		doses, err = s.cachedDoses()
		stale = true
	} else {
		doses, stale, err = s.loadDoses(c.UserContext())
	}
	if err != nil {
		return err
	}

	if stale {
		c.Set(staleHeader, "true")
	}
	return c.JSON(s.classify(doses))
}

func (s *Server) handleGetDose(c *fiber.Ctx) error {
	doses, stale, err := s.loadDoses(c.UserContext())
	if err != nil {
		return err
	}
	d, ok := dose.Find(doses, c.Params("doseId"))
	if !ok {
		return apperrors.New(apperrors.ErrDoseNotFound.Code, "dose not found")
	}

	if stale {
		c.Set(staleHeader, "true")
	}
	s.mu.RLock()
	cl := s.classifier
	s.mu.RUnlock()
	return c.JSON(dose.View{Dose: d, Classification: cl.Classify(d, s.now())})
}

func (s *Server) handleMarkTaken(c *fiber.Ctx) error {
	doseID := c.Params("doseId")
	doses, _, err := s.loadDoses(c.UserContext())
	if err != nil {
		return err
	}
	d, ok := dose.Find(doses, doseID)
	if !ok {
		return apperrors.New(apperrors.ErrDoseNotFound.Code, "dose not found")
	}
	if !d.CanMarkTaken() {
		return apperrors.New(apperrors.ErrDoseNotActionable.Code, "dose cannot be marked as taken")
	}

	if err := s.backend.MarkTaken(c.UserContext(), s.cid, d.MedicationID, d.DueAt); err != nil {
		return err
	}

	if err := s.store.RecordTaken(&store.TakenRecord{
		DoseID:          d.DoseID,
		MedicationID:    d.MedicationID,
		CareRecipientID: s.cid,
		DueAt:           d.DueAt,
	}); err != nil {
		s.logger.Warn("Failed to record taken dose", zap.String("dose_id", doseID), zap.Error(err))
	}

	groups := s.applyLocal(dose.MarkTaken(doses, doseID))
	return c.JSON(groups)
}

type medicationRequest struct {
	Name       string   `json:"name"`
	Dosage     string   `json:"dosage"`
	Notes      string   `json:"notes"`
	Recurrence string   `json:"recurrence"`
	TimesOfDay []string `json:"timesOfDay"`
	DaysOfWeek []int    `json:"daysOfWeek"`
	Active     *bool    `json:"active"`
}

func (r medicationRequest) form() (*medication.Form, error) {
	f := medication.NewForm()
	f.Name = r.Name
	f.Dosage = r.Dosage
	f.Notes = r.Notes
	if r.Active != nil {
		f.Active = *r.Active
	}
	if r.Recurrence != "" {
		rec, err := medication.ParseRecurrence(r.Recurrence)
		if err != nil {
			return nil, err
		}
		f.Recurrence = rec
	}
	if r.TimesOfDay != nil {
		f.TimesOfDay = nil
		for _, t := range r.TimesOfDay {
			if err := f.AddTime(t); err != nil {
				return nil, err
			}
		}
	}
	if r.DaysOfWeek != nil {
		f.DaysOfWeek = nil
		for _, d := range r.DaysOfWeek {
			if d < 0 || d > 6 {
				return nil, apperrors.New(apperrors.ErrMedicationInvalid.Code, "daysOfWeek must be between 0 and 6")
			}
			f.AddDay(d)
		}
	}
	return f, nil
}

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	var req medicationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.ErrBadRequest.Code, "invalid request")
	}

	f, err := req.form()
	if err != nil {
		return err
	}
	payload, err := f.Build(s.cid)
	if err != nil {
		return err
	}

	if err := s.backend.CreateMedication(c.UserContext(), payload); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(payload)
}

func (s *Server) handleUpdateMedication(c *fiber.Ctx) error {
	id := c.Params("id")
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return apperrors.New(apperrors.ErrBadRequest.Code, "active is required")
	}

	if err := s.backend.SetMedicationActive(c.UserContext(), id, *req.Active); err != nil {
		return err
	}

	if doses, err := s.cachedDoses(); err == nil {
		s.applyLocal(dose.SetMedicationActive(doses, id, *req.Active))
	}
	return c.JSON(fiber.Map{"id": id, "active": *req.Active})
}

func (s *Server) handleListAlerts(c *fiber.Ctx) error {
	alerts, err := s.store.RecentAlerts(c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	if alerts == nil {
		alerts = []store.AlertRecord{}
	}
	return c.JSON(alerts)
}

func (s *Server) handleTakenHistory(c *fiber.Ctx) error {
	recs, err := s.store.TakenHistory(s.cid, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []store.TakenRecord{}
	}
	return c.JSON(recs)
}

// applyLocal caches an optimistically updated list and pushes it to websocket clients
func (s *Server) applyLocal(doses []dose.Dose) []dose.GroupView {
	if err := s.store.SaveSnapshot(store.Snapshot{CareRecipientID: s.cid, FetchedAt: s.now(), Doses: doses}); err != nil {
		s.logger.Warn("Failed to cache dose list", zap.Error(err))
	}
	groups := s.classify(doses)
	s.hub.broadcast(groups)
	return groups
}
