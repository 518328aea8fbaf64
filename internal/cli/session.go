package cli

import (
	"io"

	"go.uber.org/zap"

	"github.com/gmsas95/careclock-cli/internal/app"
	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/store"
)

// session lazily opens what a command needs and closes it afterwards
type session struct {
	configPath string
	dataDir    string
	out        io.Writer
	errOut     io.Writer
	in         io.Reader

	// longRunning commands log at the configured level, the others only warn
	longRunning bool

	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	app    *app.App
}

func (s *session) Config() (*config.Config, error) {
	if s.cfg != nil {
		return s.cfg, nil
	}
	cfg, err := config.Load(s.configPath, s.dataDir)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return cfg, nil
}

func (s *session) Logger() (*zap.Logger, error) {
	if s.logger != nil {
		return s.logger, nil
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Log
	if !s.longRunning {
		logCfg.Level = "warn"
	}
	logger, err := app.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}
	s.logger = logger
	return logger, nil
}

func (s *session) Store() (*store.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg)
	if err != nil {
		return nil, err
	}
	s.store = st
	return st, nil
}

func (s *session) App() (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	logger, err := s.Logger()
	if err != nil {
		return nil, err
	}
	st, err := s.Store()
	if err != nil {
		return nil, err
	}
	s.app = app.New(cfg, st, logger, Version)
	return s.app, nil
}

func (s *session) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}
