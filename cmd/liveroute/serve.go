package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/vango-dev/liveroute/internal/board"
	"github.com/vango-dev/liveroute/internal/config"
	"github.com/vango-dev/liveroute/pkg/messaging"
	"github.com/vango-dev/liveroute/pkg/middleware"
	"github.com/vango-dev/liveroute/pkg/router"
	"github.com/vango-dev/liveroute/pkg/server"
	"github.com/vango-dev/liveroute/pkg/state"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the HTTP server.

Sessions are kept in PostgreSQL when LIVEROUTE_DATABASE_URL is set and in
memory otherwise. User state goes to S3 when LIVEROUTE_S3_BUCKET is set.
Board notes travel over NATS when LIVEROUTE_NATS_URL is set, so several
processes share one board.

Examples:
  liveroute serve
  LIVEROUTE_NATS_URL=nats://127.0.0.1:4222 liveroute serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default from LIVEROUTE_ADDR)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	sessions, err := sessionBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, func() { sessions.Close() })

	users := userBackend(cfg, logger)
	closers = append(closers, func() { users.Close() })

	out, in, closeBus, err := boardBus(cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeBus)

	b := board.New(out, in, board.WithLogger(logger))
	closers = append(closers, b.Close)

	table, err := router.TableFrom(b.Routes())
	if err != nil {
		return err
	}
	r := router.New(table,
		router.WithFetch(server.ClientFetch(&http.Client{Timeout: 30 * time.Second})),
		router.WithLogger(logger),
	)
	r.Use(middleware.OpenTelemetry(middleware.WithTracerName("liveroute")))

	scfg := server.DefaultConfig()
	scfg.Address = cfg.Addr
	scfg.ShutdownTimeout = cfg.ShutdownTimeout
	scfg.PortTTL = cfg.PortTTL
	scfg.PortBacklog = cfg.PortBacklog
	scfg.MetricsPath = cfg.MetricsPath
	scfg.Logger = logger
	scfg.State = server.StateConfig{
		Session:       sessions,
		SessionCookie: "liveroute_session",
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: cfg.SecureCookies,
		User:          users,
		UserID:        board.UserID,
	}

	srv := server.New(r, scfg)
	fmt.Printf("\033[32m✓\033[0m liveroute %s listening on %s\n", version, cfg.Addr)
	return srv.Run(ctx)
}

// sessionBackend opens PostgreSQL when configured and memory otherwise.
func sessionBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Backend, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("sessions kept in memory")
		return state.NewMemoryBackend(), nil
	}
	pool, err := state.NewPGPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	backend := state.NewPGBackend(pool, state.WithTable(cfg.SessionTable))
	if err := backend.EnsureSchema(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	logger.Info("sessions kept in postgres", "table", cfg.SessionTable)
	return backend, nil
}

// userBackend uses S3 when a bucket is configured and memory otherwise.
func userBackend(cfg *config.Config, logger *slog.Logger) state.Backend {
	if cfg.S3Bucket == "" {
		logger.Info("user state kept in memory")
		return state.NewMemoryBackend()
	}
	logger.Info("user state kept in s3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	return state.NewS3Backend(newS3Client(cfg), cfg.S3Bucket, cfg.S3Prefix)
}

func newS3Client(cfg *config.Config) *s3.Client {
	opts := s3.Options{
		Region:      cfg.S3Region,
		Credentials: aws.AnonymousCredentials{},
	}
	if cfg.S3AccessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     cfg.S3AccessKey,
					SecretAccessKey: cfg.S3SecretKey,
					Source:          "liveroute",
				}, nil
			}))
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// boardBus connects the board to NATS when configured. A NATS port both
// publishes and listens on the subject, so every process applies every note.
// The NATS port is never closed on its own: a close notice on the shared
// subject would reach every other process, so shutdown drops the connection.
func boardBus(cfg *config.Config, logger *slog.Logger) (out, in messaging.Port, closeBus func(), err error) {
	if cfg.NATSURL == "" {
		logger.Info("board bus in process")
		out, in = board.LocalBus(logger)
		return out, in, func() { out.Close() }, nil
	}
	nc, err := messaging.ConnectNATS(cfg.NATSURL, cfg.ServiceName, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	port, err := messaging.NewNATSPort(nc, cfg.NATSSubject, cfg.NATSSubject, logger)
	if err != nil {
		nc.Close()
		return nil, nil, nil, err
	}
	logger.Info("board bus on nats", "subject", cfg.NATSSubject)
	return port, port, nc.Close, nil
}
