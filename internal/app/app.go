// Package app assembles the ticket service from configuration. Both the HTTP
// server and the operator CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nico-hl/ticketkp/internal/config"
	"github.com/nico-hl/ticketkp/internal/encryption"
	"github.com/nico-hl/ticketkp/internal/events"
	"github.com/nico-hl/ticketkp/internal/links"
	"github.com/nico-hl/ticketkp/internal/persistence"
	"github.com/nico-hl/ticketkp/internal/repository"
	"github.com/nico-hl/ticketkp/internal/service"
	"github.com/nico-hl/ticketkp/internal/storage"
)

// App holds the wired service and every open backend handle.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Dispatcher  events.Dispatcher
	Tickets     *service.TicketService
	Signer      *links.Signer
	Postgres    *persistence.Postgres
	SQLite      *persistence.SQLite
	Redis       *persistence.Redis
	Repository  repository.TicketRepository
	Attachments storage.AttachmentStore
}

// Options tune how much of the stack New builds.
type Options struct {
	// RunMigrations applies postgres migrations before the repository is used.
	RunMigrations bool
}

// New opens the configured backends and builds the ticket service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.open(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, opts Options) error {
	cfg := a.Config

	codec, err := newCodec(cfg.Encryption)
	if err != nil {
		return err
	}
	if !codec.Enabled() {
		a.Logger.Warn("field encryption disabled; new tickets are stored in plaintext")
	}

	needRedis := cfg.Storage.Backend == config.BackendRedis || cfg.Attachments.Backend == config.AttachmentsRedis
	if needRedis {
		a.Redis, err = persistence.NewRedis(ctx, cfg.Redis, true, a.Logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	repo, err := a.openRepository(ctx, opts)
	if err != nil {
		return err
	}
	a.Repository = repo

	a.Signer = links.NewSigner(cfg.Links.Secret, cfg.App.PublicURL)
	switch cfg.Attachments.Backend {
	case config.AttachmentsRedis:
		a.Attachments = storage.NewRedisBlobStore(a.Redis.Client, cfg.Redis.KeyPrefix, a.Signer.URL)
	default:
		fs, err := storage.NewFilesystemStore(cfg.Attachments.Dir, a.Signer.URL)
		if err != nil {
			return err
		}
		a.Attachments = fs
	}

	a.Dispatcher = events.NewInMemoryDispatcher(a.Logger)
	a.Tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo:        repo,
		Attachments:       a.Attachments,
		Codec:             codec,
		Dispatcher:        a.Dispatcher,
		Logger:            a.Logger,
		UploadConcurrency: cfg.Attachments.Concurrency,
	})
	return nil
}

func (a *App) openRepository(ctx context.Context, opts Options) (repository.TicketRepository, error) {
	cfg := a.Config
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := persistence.NewSQLite(ctx, cfg.SQLite.Path, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.SQLite = db
		return repository.NewSQLiteTicketRepository(ctx, db.DB)
	case config.BackendRedis:
		return repository.NewRedisTicketRepository(a.Redis.Client, cfg.Redis.KeyPrefix), nil
	default:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.Postgres = pg
		if pg.PoolHandle() == nil {
			return nil, errors.New("postgres backend selected without a DSN")
		}
		if opts.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, a.Logger); err != nil {
				return nil, err
			}
		}
		return repository.NewPostgresTicketRepository(pg.PoolHandle()), nil
	}
}

func newCodec(cfg config.EncryptionConfig) (*encryption.Codec, error) {
	if !cfg.Enabled {
		if cfg.Key != "" {
			// still able to read rows sealed while encryption was on
			return encryption.NewReadOnlyCodec(cfg.Key)
		}
		return encryption.NewPlaintextCodec(), nil
	}
	return encryption.NewCodec(cfg.Key)
}

// Pingers returns a readiness check per backend in use.
func (a *App) Pingers() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"tickets:" + a.Config.Storage.Backend:         a.Repository.Ping,
		"attachments:" + a.Config.Attachments.Backend: a.Attachments.Ping,
	}
}

// Close releases every backend handle.
func (a *App) Close() {
	a.Postgres.Close()
	a.SQLite.Close()
	a.Redis.Close()
}
