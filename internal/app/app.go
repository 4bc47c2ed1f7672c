// Package app builds the long-lived services from configuration and
// hands them to the CLI and HTTP entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/nhle/inbox-sync/internal/classify"
	"github.com/nhle/inbox-sync/internal/coordinator"
	"github.com/nhle/inbox-sync/internal/credential"
	"github.com/nhle/inbox-sync/internal/draft"
	"github.com/nhle/inbox-sync/internal/httpapi"
	"github.com/nhle/inbox-sync/internal/llm"
	"github.com/nhle/inbox-sync/internal/mailbox"
	"github.com/nhle/inbox-sync/internal/metrics"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/observability"
	"github.com/nhle/inbox-sync/internal/parse"
	"github.com/nhle/inbox-sync/internal/store"
	appsync "github.com/nhle/inbox-sync/internal/sync"
)

// App holds the wired services for one process.
type App struct {
	Config   *model.AppConfig
	Log      zerolog.Logger
	Store    *store.SQLiteStore
	Mailbox  *mailbox.Manager
	Engine   *appsync.Engine
	Bodies   *appsync.BodyService
	Drafts   *draft.Service
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	vault           *credential.Vault
	shutdownTracing observability.Shutdown
}

// Options select which parts New builds. Commands that only read the
// store skip the mailbox and the model clients.
type Options struct {
	Version     string
	WithMailbox bool
	WithModels  bool

	// Vault resolves secrets left out of the config. Nil opens the
	// platform keyring on first use.
	Vault *credential.Vault
}

// New opens the store and builds the services selected by opts.
func New(ctx context.Context, cfg *model.AppConfig, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: logger, vault: opts.Vault}
	if a.vault == nil {
		a.vault = credential.Open("")
	}

	shutdown, err := observability.Setup(ctx, cfg.Tracing, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	if dir := filepath.Dir(cfg.Store.Path); cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.Store = st

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	parser := parse.New(cfg.Sync.ProviderIDHeaders)

	var classifierModel, draftModel llm.Completer
	if opts.WithModels {
		classifierModel = a.loadModel(ctx, "classifier", cfg.Classifier.Remote)
		draftModel = a.loadModel(ctx, "draft", cfg.Draft.Model)
	}

	var gen draft.Generator
	if draftModel != nil {
		gen = draft.NewLLMGenerator(
			llm.WithTimeout(draftModel, cfg.Draft.Model.Timeout),
			cfg.Draft.BusinessName, cfg.Draft.Signature, cfg.Draft.Model.MaxTokens,
		)
	}
	a.Drafts = draft.NewService(st, gen, draft.Config{
		TTL:        cfg.Draft.TTL,
		RateLimit:  cfg.Draft.RateLimit,
		RateWindow: cfg.Draft.RateWindow,
		Timeout:    cfg.Draft.Model.Timeout,
	}, logger)

	if !opts.WithMailbox {
		return a, nil
	}

	password, err := a.vault.Resolve(credential.Secret{
		Name:  "imap password",
		Value: cfg.IMAP.Password,
		Ref:   cfg.IMAP.PasswordKey,
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Mailbox = mailbox.NewManager(mailbox.Config{
		Host:           cfg.IMAP.Host,
		Port:           cfg.IMAP.Port,
		Username:       cfg.IMAP.Username,
		Password:       password,
		Security:       cfg.IMAP.Security,
		Mailbox:        cfg.IMAP.SelectedMailbox(),
		ConnectTimeout: cfg.IMAP.ConnectTimeout,
		LockTimeout:    cfg.IMAP.LockTimeout,
	}, logger)

	syncCfg, err := appsync.ConfigFrom(cfg.Sync)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	cls := classify.New(classifierModel, classify.Config{
		ImportantSenders: cfg.Classifier.ImportantSenders,
		Threshold:        cfg.Classifier.Threshold,
		Timeout:          cfg.Classifier.Remote.Timeout,
	}, logger)

	a.Engine = appsync.NewEngine(appsync.Deps{
		Mailbox:     a.Mailbox,
		Store:       st,
		Parser:      parser,
		Classifier:  cls,
		Coordinator: coordinator.New(st, cfg.Sync.LeaseTTL, logger),
		Metrics:     a.Metrics,
		Logger:      logger,
	}, syncCfg)
	a.Bodies = appsync.NewBodyService(a.Mailbox, st, parser, cfg.Sync.SessionTimeout, logger)

	return a, nil
}

// loadModel builds the Completer for mc. A missing API key disables the
// model with a warning rather than failing startup.
func (a *App) loadModel(ctx context.Context, name string, mc model.ModelConfig) llm.Completer {
	if mc.Provider == "" {
		return nil
	}

	apiKey := mc.APIKey
	if mc.Provider != "bedrock" {
		var err error
		apiKey, err = a.vault.Resolve(credential.Secret{Name: name + " api key", Value: mc.APIKey, Ref: mc.APIKeyRef})
		if err != nil {
			ev := a.Log.Warn()
			if !errors.Is(err, credential.ErrNotFound) {
				ev = a.Log.Error().Err(err)
			}
			ev.Str("model", name).Str("provider", mc.Provider).Msg("model disabled: no api key")
			return nil
		}
	}

	c, err := llm.New(ctx, llm.Options{
		Provider:  mc.Provider,
		Model:     mc.Model,
		APIKey:    apiKey,
		BaseURL:   mc.BaseURL,
		Region:    mc.Region,
		MaxTokens: mc.MaxTokens,
	})
	if err != nil {
		a.Log.Error().Err(err).Str("model", name).Msg("model disabled")
		return nil
	}
	return c
}

// Router builds the HTTP handler. poller may be nil.
func (a *App) Router(poller *appsync.Poller) *gin.Engine {
	d := httpapi.Deps{
		Drafts:     a.Drafts,
		Messages:   a.Store,
		Metrics:    a.Metrics,
		Gatherer:   a.Registry,
		CronSecret: a.Config.Server.CronSecret,
		Logger:     a.Log,
	}
	if a.Engine != nil {
		d.Runner = a.Engine
		d.Bodies = a.Bodies
	}
	if poller != nil {
		d.Poller = poller
	}
	return httpapi.NewRouter(d)
}

// Close flushes traces and closes the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
