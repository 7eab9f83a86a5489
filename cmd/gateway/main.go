// Command gateway is the process entrypoint: it wires configuration,
// logging, the Postgres/pgvector memory store, the Redis cache, the LLM
// chat/embedding clients, and the carrier telephony HTTP/WS surface
// together and serves them on one gin engine, per SPEC_FULL.md §10-11.
// Assembled from the shape of the teacher's router/*.go route-registration
// functions (no single assistant-api main.go was present in the
// retrieval) and internal/agent/executor/llm/internal/websocket's
// errgroup.WithContext idiom, used here for the DB/Redis parallel startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fluentvoice/gateway/internal/callregistry"
	"github.com/fluentvoice/gateway/internal/callsession"
	"github.com/fluentvoice/gateway/internal/codec"
	"github.com/fluentvoice/gateway/internal/config"
	"github.com/fluentvoice/gateway/internal/embedding"
	"github.com/fluentvoice/gateway/internal/llmclient"
	"github.com/fluentvoice/gateway/internal/logging"
	"github.com/fluentvoice/gateway/internal/memory"
	"github.com/fluentvoice/gateway/internal/postcall"
	"github.com/fluentvoice/gateway/internal/telephony"
)

func main() {
	envPath := flag.String("env", ".env", "path to .env configuration file")
	flag.Parse()

	if err := run(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run(envPath string) error {
	cfg, err := config.Load(envPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, redisClient, err := connectStores(ctx, cfg, logger)
	if err != nil {
		return err
	}

	embedder := embedding.NewOpenAI(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	store := memory.New(db, redisClient, embedder, logger)
	llm := llmclient.New(cfg.OpenAIAPIKey, cfg.AnthropicAPIKey, cfg.ChatModel, cfg.ChatModel, logger)

	session := callsession.New(callsession.Config{
		AIWebSocketBaseURL: cfg.AIWebSocketBaseURL,
		VoicePromptDefault: cfg.VoicePromptDefault,
		TextPromptDefault:  cfg.TextPromptDefault,
		MemoryProbeK:       cfg.MemoryProbeK,
	}, store, logger)

	registry := callregistry.New()
	pc := postcall.New(store, llm, logger)
	mediaWSPath := fmt.Sprintf("wss://%s/v1/voice/media-stream", publicHost(cfg))
	handler := telephony.New(session, registry, pc, codec.NewResampler(), logger, mediaWSPath).
		WithTwilioCredentials(telephony.Credentials{AccountSID: cfg.TwilioAccountSID, AuthToken: cfg.TwilioAuthToken})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	handler.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("gateway: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Infow("gateway: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("gateway: graceful shutdown failed", "error", err)
	}
	return nil
}

// connectStores opens the Postgres and Redis connections in parallel,
// matching websocket_executor.go's errgroup.WithContext parallel-init
// idiom, since the two are independent and both block on network I/O.
func connectStores(ctx context.Context, cfg *config.Config, logger logging.Logger) (*gorm.DB, *redis.Client, error) {
	var db *gorm.DB
	var redisClient *redis.Client

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		opts, err := redis.ParseURL(redisAddrToURL(cfg.RedisAddr))
		if err != nil {
			return fmt.Errorf("parse redis addr: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(gCtx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisClient = client
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	logger.Infow("gateway: stores connected")
	return db, redisClient, nil
}

func redisAddrToURL(addr string) string {
	if addr == "" {
		addr = "localhost:6379"
	}
	return "redis://" + addr
}

func publicHost(cfg *config.Config) string {
	if cfg.PublicHost != "" {
		return cfg.PublicHost
	}
	return fmt.Sprintf("localhost:%d", cfg.HTTPPort)
}
