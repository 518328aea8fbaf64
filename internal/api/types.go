package api

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/dose"
	"github.com/gmsas95/careclock-cli/internal/medication"
	"github.com/gmsas95/careclock-cli/internal/metrics"
	"github.com/gmsas95/careclock-cli/internal/store"
)

// Version is reported by the health endpoint
var Version = "dev"

// Backend is the care API as seen by the dashboard
type Backend interface {
	UpcomingDoses(ctx context.Context, careRecipientID string) ([]dose.Dose, error)
	MarkTaken(ctx context.Context, careRecipientID, medicationID string, dueAt time.Time) error
	CreateMedication(ctx context.Context, p medication.Payload) error
	SetMedicationActive(ctx context.Context, medicationID string, active bool) error
}

type Server struct {
	app     *fiber.App
	config  *config.Config
	store   *store.Store
	backend Backend
	metrics *metrics.Metrics
	logger  *zap.Logger
	hub     *hub
	now     func() time.Time
	cid     string

	mu         sync.RWMutex
	classifier *dose.Classifier
}

// New creates the dashboard server for careRecipientID
func New(cfg *config.Config, st *store.Store, backend Backend, careRecipientID string, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Default()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:        app,
		config:     cfg,
		store:      st,
		backend:    backend,
		metrics:    m,
		logger:     logger,
		hub:        newHub(m),
		now:        time.Now,
		cid:        careRecipientID,
		classifier: dose.NewClassifier(cfg.Thresholds()),
	}

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// SetThresholds replaces the classifier used by later requests
func (s *Server) SetThresholds(t dose.Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = dose.NewClassifier(t)
}

func (s *Server) classify(doses []dose.Dose) []dose.GroupView {
	s.mu.RLock()
	c := s.classifier
	s.mu.RUnlock()
	return c.Views(doses, s.now())
}
