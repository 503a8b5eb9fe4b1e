package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"applyportal/internal/util"
	"applyportal/pkg/events"
	"applyportal/pkg/mail"
	"applyportal/pkg/storage"
	"applyportal/pkg/store"
	"applyportal/services/portal/internal/verification"
)

// Config holds runtime collaborators for the application core.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Storage     *storage.Storage
	Mailer      mail.Sender
	Events      events.Publisher
}

// App implements registration, verification, profile, file and review
// operations on top of the store and the storage backends.
type App struct {
	store    store.Store
	files    *storage.Storage
	verifier *verification.Service
	events   events.Publisher
	validate *validator.Validate
}

// New constructs the application. A missing store is opened from DatabaseURL.
func New(cfg Config) (*App, error) {
	if cfg.Storage == nil {
		return nil, errors.New("storage required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = mail.NopSender{}
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &App{
		store:    dataStore,
		files:    cfg.Storage,
		verifier: verification.New(mailer, dataStore),
		events:   publisher,
		validate: newValidator(),
	}, nil
}

// StorageKind reports which backend receives uploads.
func (a *App) StorageKind() string {
	return a.files.Kind()
}

func (a *App) publish(ctx context.Context, eventType string, attrs map[string]string) {
	if err := a.events.Publish(ctx, events.New(eventType, attrs)); err != nil {
		util.LoggerFromContext(ctx).Warn("event publish failed", "type", eventType, "err", err)
	}
}
