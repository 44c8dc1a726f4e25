package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"chathub/internal/attach"
	"chathub/internal/channel"
	"chathub/internal/config"
	"chathub/internal/dedupe"
	"chathub/internal/domain"
	"chathub/internal/events"
	"chathub/internal/orchestrator"
	"chathub/internal/provider"
	"chathub/internal/secrets"
	"chathub/internal/store"
	"chathub/internal/toolserver"
)

const (
	dedupeCacheSize = 100_000
	defaultExchange = "chathub.events"
	maxWebhookBody  = 1 << 20
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub: webhook ingress, orchestrator, outbound delivery",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	box, err := secrets.NewBox(cfg.General.MasterKey)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	directory := store.NewConfigDirectory(cfg)

	dedupeStore, closeDedupe, err := newDedupe(cfg.Dedupe)
	if err != nil {
		return err
	}
	defer closeDedupe()

	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	channels := channel.NewRegistry(logger,
		channel.NewTelegram(),
		channel.NewWhatsApp(),
		channel.NewSlack(),
		channel.NewDiscord(),
	)

	providers, err := newProviders(cfg)
	if err != nil {
		return err
	}

	tools := toolserver.NewRegistry(logger, cfg.ToolServers)
	tools.Start(ctx)
	defer tools.StopAll()

	orch := orchestrator.New(orchestrator.Config{
		Logger:        logger,
		Channels:      channels,
		Providers:     providers,
		Tools:         tools,
		Conversations: db,
		Messages:      db,
		ChannelDir:    directory,
		AgentDir:      directory,
		Secrets:       box,
		Dedupe:        dedupeStore,
		Events:        publisher,
		Attachments:   attach.NewHTTPProcessor(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("POST /webhook/{tenant}/{channel}", webhookHandler(orch, directory))

	srv := &http.Server{
		Addr:              cfg.General.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info("chathub listening", "addr", cfg.General.ListenAddr, "version", version)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

// webhookHandler receives raw platform deliveries. Processing is
// synchronous; platform retries after a slow response are absorbed by
// the dedupe store.
func webhookHandler(orch *orchestrator.Orchestrator, directory *store.ConfigDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenant")
		channelID := r.PathValue("channel")

		if _, err := directory.GetChannel(r.Context(), tenantID, channelID); err != nil {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		err = orch.HandleIncomingMessage(r.Context(), tenantID, channelID, body)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, domain.ErrUnsupportedPayload), errors.Is(err, domain.ErrNoContent):
			// Acknowledged and ignored: platforms retry anything non-2xx.
			w.WriteHeader(http.StatusOK)
		default:
			logger.Error("webhook processing failed", "tenant", tenantID, "channel", channelID, "err", err)
			http.Error(w, "processing failed", http.StatusInternalServerError)
		}
	}
}

func newDedupe(cfg config.DedupeConfig) (dedupe.Store, func(), error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		return dedupe.NewRedis(client, ttl), func() { client.Close() }, nil
	default: // "memory", validated upstream
		cache := dedupe.NewCache(ttl, dedupeCacheSize)
		return cache, cache.Close, nil
	}
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if cfg.URL == "" {
		return events.NoopPublisher{}, nil
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	pub, err := events.NewAMQPPublisher(cfg.URL, exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return pub, nil
}

func newProviders(cfg *config.Config) (*provider.Registry, error) {
	var provs []provider.Provider
	for name, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			provs = append(provs, provider.NewOpenAI(provider.OpenAIConfig{
				Name:    name,
				APIBase: p.APIBase,
				Logger:  logger,
			}))
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", name, p.Type)
		}
	}
	return provider.NewRegistry(logger, provs...), nil
}
