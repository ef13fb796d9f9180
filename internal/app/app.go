// Package app wires configuration into a running bot: store, transport,
// gates, scheduler, web hook, and the update dispatcher.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filegate/internal/config"
	"filegate/internal/database"
	"filegate/internal/gate"
	"filegate/internal/shortener"
	"filegate/internal/telegram"
	"filegate/internal/web"
	"filegate/internal/webtoken"
)

// App owns every long-lived component and its lifecycle. The caller runs it
// with Run and must call Close when done.
type App struct {
	cfg    *config.Config
	logger gate.Logger

	store        gate.Store
	tokens       *webtoken.Store
	client       *telegram.Client
	entitlements *gate.EntitlementService
	scheduler    *gate.ExpiryScheduler
	webServer    *web.Server
	dispatch     *Dispatcher

	logFile *os.File
}

// NewApp creates a fully wired App from the given config. The bot identity
// is resolved from the transport up front; a bad token fails here, not later.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	sessionID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, sessionID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	client := telegram.NewClient(cfg.Bot.Token, logger)
	me, err := client.Me(ctx)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("resolving bot identity: %w", err)
	}
	logger.Info("bot identity resolved", "username", me.Username, "id", me.ID)

	var short gate.Shortener = gate.NopShortener{}
	if cfg.Shortener.Host != "" {
		short = shortener.NewClient(cfg.Shortener.Host, cfg.Shortener.APIKey, logger)
	}

	var tokens *webtoken.Store
	var issuer gate.WebTokenIssuer
	if cfg.Web.BaseURL != "" && cfg.Database.DataDir != "" {
		tokens, err = webtoken.Open(
			filepath.Join(cfg.Database.DataDir, "webtokens.db"),
			me.Username,
			time.Duration(cfg.Web.TokenTTLMinutes)*time.Minute)
		if err != nil {
			store.Close()
			logFile.Close()
			return nil, fmt.Errorf("opening web token store: %w", err)
		}
		issuer = tokens
	}

	clock := gate.RealClock{}
	requirements := make([]gate.ChannelRequirement, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		requirements = append(requirements, gate.ChannelRequirement{
			ChannelID:   ch.ID,
			Name:        ch.Name,
			InviteLink:  ch.InviteLink,
			RequestMode: ch.RequestMode,
			LinkTTL:     time.Duration(ch.LinkTTLMinutes) * time.Minute,
		})
	}

	subscriptions := gate.NewSubscriptionGate(store, client, requirements, logger)
	session := gate.NewVerificationSession(store, short, clock, gate.RandomTokenSource{}, logger, me.Username, cfg.VerifyTTL())
	entitlements := gate.NewEntitlementService(store, client, clock, logger)
	scheduler := gate.NewExpiryScheduler(entitlements, store, client, clock, gate.UUIDGenerator{}, logger)

	coordinator := gate.NewCoordinator(store, entitlements, session, client, scheduler, issuer, clock, logger, gate.CoordinatorConfig{
		StorageChannelID: cfg.Storage.ChannelID,
		Admins:           cfg.AdminIDs(),
		ProtectContent:   cfg.Storage.ProtectContent,
		AutoDelete:       cfg.AutoDelete(),
		PremiumURL:       cfg.Verification.PremiumURL,
		TutorialURL:      cfg.Verification.TutorialURL,
		WebBaseURL:       cfg.Web.BaseURL,
	})

	// Surface missing channel rights to the operator at startup instead of
	// letting them appear as per-user gate failures.
	for _, req := range requirements {
		if err := subscriptions.CheckBotAccess(ctx, req.ChannelID, me.ID); err != nil {
			logger.Warn("requirement channel not fully accessible", "channel", req.ChannelID, "err", err)
		}
	}

	var webServer *web.Server
	if cfg.Web.ListenAddr != "" && tokens != nil {
		webServer = web.NewServer(cfg.Web.ListenAddr, tokens, coordinator, store, clock, logger)
	}

	commands := NewCommands(cfg, store, entitlements, coordinator, clock, client, me.Username, logger)
	dispatch := NewDispatcher(client, coordinator, subscriptions, commands, store, logger, me.Username)

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		tokens:       tokens,
		client:       client,
		entitlements: entitlements,
		scheduler:    scheduler,
		webServer:    webServer,
		dispatch:     dispatch,
		logFile:      logFile,
	}, nil
}

// SweepOnce runs a single entitlement sweep, for the one-shot CLI command.
func (a *App) SweepOnce(ctx context.Context) (int, error) {
	return a.entitlements.Sweep(ctx)
}

// Run starts the scheduler, the web hook, and the update loop, blocking until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start()
	defer a.scheduler.Stop()

	if a.tokens != nil {
		if n, err := a.tokens.PurgeExpired(); err != nil {
			a.logger.Warn("purging stale web tokens failed", "err", err)
		} else if n > 0 {
			a.logger.Debug("stale web tokens purged", "count", n)
		}
	}

	if a.webServer != nil {
		go func() {
			if err := a.webServer.ListenAndServe(); err != nil {
				a.logger.Error("web server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.webServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("web server shutdown failed", "err", err)
			}
		}()
	}

	a.logger.Info("bot started")
	return a.dispatch.Run(ctx)
}

// Close releases the stores and the log file.
func (a *App) Close() error {
	var firstErr error

	if a.tokens != nil {
		if err := a.tokens.Close(); err != nil {
			firstErr = fmt.Errorf("closing web token store: %w", err)
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
