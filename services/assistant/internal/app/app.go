package app

import (
	"errors"
	"log/slog"
	"time"

	"lumosai/pkg/ai"
	"lumosai/pkg/auth"
	"lumosai/pkg/memory"
	"lumosai/pkg/prompt"
	"lumosai/pkg/storage"
	"lumosai/pkg/store"
	"lumosai/pkg/telemetry"
)

// Config holds the collaborators and defaults of the application core. Images,
// Archive and Sessions are optional.
type Config struct {
	Store     store.Store
	Memory    *memory.Memory
	Chat      ai.ChatProvider
	Images    ai.ImageGenerator
	Assembler *prompt.Assembler
	Intent    *prompt.IntentDetector
	Recorder  *telemetry.Recorder
	Monitor   *telemetry.Monitor
	Archive   *storage.ImageArchive
	Sessions  *auth.SessionIssuer

	LoginEmail        string
	LoginPasswordHash string

	DefaultTemperature float64
	MaxOutputTokens    int
	WebSearch          bool
	Logger             *slog.Logger
}

// App is the core application service: conversations, assistants, telemetry
// queries and the operator session.
type App struct {
	store     store.Store
	memory    *memory.Memory
	chat      ai.ChatProvider
	images    ai.ImageGenerator
	assembler *prompt.Assembler
	intent    *prompt.IntentDetector
	recorder  *telemetry.Recorder
	monitor   *telemetry.Monitor
	archive   *storage.ImageArchive
	sessions  *auth.SessionIssuer

	loginEmail        string
	loginPasswordHash string

	defaultTemperature float64
	maxOutputTokens    int
	webSearch          bool
	logger             *slog.Logger
	now                func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Memory == nil {
		return nil, errors.New("memory required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("chat provider required")
	}
	if cfg.DefaultTemperature < 0 || cfg.DefaultTemperature > 1 {
		return nil, errors.New("default temperature must be within [0,1]")
	}
	a := &App{
		store:              cfg.Store,
		memory:             cfg.Memory,
		chat:               cfg.Chat,
		images:             cfg.Images,
		assembler:          cfg.Assembler,
		intent:             cfg.Intent,
		recorder:           cfg.Recorder,
		monitor:            cfg.Monitor,
		archive:            cfg.Archive,
		sessions:           cfg.Sessions,
		loginEmail:         cfg.LoginEmail,
		loginPasswordHash:  cfg.LoginPasswordHash,
		defaultTemperature: cfg.DefaultTemperature,
		maxOutputTokens:    cfg.MaxOutputTokens,
		webSearch:          cfg.WebSearch,
		logger:             cfg.Logger,
		now:                time.Now,
	}
	if a.assembler == nil {
		a.assembler = prompt.NewAssembler(cfg.WebSearch)
	}
	if a.intent == nil {
		a.intent = prompt.NewIntentDetector(nil, nil, 0)
	}
	if a.recorder == nil {
		a.recorder = telemetry.NewRecorder(cfg.Store, telemetry.WithRecorderLogger(cfg.Logger))
	}
	if a.monitor == nil {
		a.monitor = telemetry.NewMonitor(cfg.Store, telemetry.Pricing{})
	}
	if a.maxOutputTokens <= 0 {
		a.maxOutputTokens = ai.DefaultMaxTokens
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}
