package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/serroba/online-pad/internal/api"
	"github.com/serroba/online-pad/internal/collab"
	"github.com/serroba/online-pad/internal/config"
	"github.com/serroba/online-pad/internal/link"
	"github.com/serroba/online-pad/internal/replica"
	"github.com/serroba/online-pad/internal/sequencer"
	"github.com/serroba/online-pad/internal/transport"
	"github.com/serroba/online-pad/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	v := viper.New()
	def := config.Default()

	var configPath string

	root := &cobra.Command{
		Use:           "pad",
		Short:         "Serve collaboratively edited plain-text documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(v, configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := cfg.Validate(); err != nil {
				return err
			}

			return serve(cmd.Context(), cfg, logger)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (yaml, json or toml)")
	pf.String("log-level", def.LogLevel, "log level: debug, info, warn or error")
	pf.Duration("retry-delay", def.RetryDelay, "pause before retrying a failed request")

	f := root.Flags()
	f.String("listen", def.Listen, "address to serve HTTP on")
	f.Bool("master", def.Master, "order commits on this server")
	f.String("master-url", def.MasterURL, "base URL of the master, for replicas")

	cobra.CheckErr(v.BindPFlags(pf))
	cobra.CheckErr(v.BindPFlags(f))

	root.AddCommand(syncCommand(v, &configPath))

	return root
}

func syncCommand(v *viper.Viper, configPath *string) *cobra.Command {
	def := config.Default().Sync

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep a local file in sync with a document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := cfg.Sync.Validate(); err != nil {
				return err
			}

			return syncFile(cmd.Context(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.String("server", def.Server, "base URL of a replica")
	f.String("doc", def.Doc, "document id")
	f.String("file", def.File, "file to keep in sync")
	f.Duration("interval", def.Interval, "how often the file is checked for edits")

	for _, name := range []string{"server", "doc", "file", "interval"} {
		cobra.CheckErr(v.BindPFlag("sync."+name, f.Lookup(name)))
	}

	return cmd
}

func setup(v *viper.Viper, configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, logger, nil
}

// serve runs a replica, and the sequencer too when cfg.Master is set, until
// an interrupt.
func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		seq      *sequencer.Sequencer
		upstream replica.Upstream
		source   link.Source
	)

	if cfg.Master {
		seq = sequencer.New(logger.Named("sequencer"))
		upstream, source = seq, seq
	} else {
		client := transport.New(transport.Config{
			BaseURL:    cfg.MasterURL,
			RetryDelay: cfg.RetryDelay,
			Logger:     logger.Named("upstream"),
		})
		upstream, source = client, client
	}

	rep := replica.New(replica.Config{Upstream: upstream, Logger: logger.Named("replica")})

	l := link.New(link.Config{
		Source:     source,
		Sink:       rep,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger.Named("link"),
	})

	server := api.NewServer(api.ServerConfig{
		Replica:   rep,
		Sequencer: seq,
		Hub:       ws.NewHub(),
		Logger:    logger.Named("api"),
	})

	g, ctx := errgroup.WithContext(ctx)

	// Request contexts end with ctx so that long-polls let Shutdown finish.
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		logger.Info("starting server",
			zap.String("addr", cfg.Listen),
			zap.Bool("master", cfg.Master),
			zap.String("master_url", cfg.MasterURL),
		)

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
			return fmt.Errorf("replication link: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("shutting down")
		server.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// syncFile mirrors a document into a file, committing edits made to the file
// every interval, until an interrupt.
func syncFile(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	manager := collab.NewManager(collab.ManagerConfig{
		Transport: transport.New(transport.Config{
			BaseURL:    cfg.Sync.Server,
			RetryDelay: cfg.RetryDelay,
			Logger:     logger.Named("transport"),
		}),
		Clock:      clock,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger.Named("session"),
	})
	defer manager.CloseAll()

	surface := collab.NewFileSurface(cfg.Sync.File)
	session := manager.Open(ctx, cfg.Sync.Doc, surface)

	select {
	case <-session.Ready():
	case <-ctx.Done():
		return nil
	}

	logger.Info("syncing",
		zap.String("doc", cfg.Sync.Doc),
		zap.String("file", cfg.Sync.File),
		zap.String("server", cfg.Sync.Server),
	)

	ticker := clock.NewTicker(cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := surface.Err(); err != nil {
				logger.Warn("file unavailable", zap.Error(err))

				continue
			}

			session.TryCommit()
		case <-ctx.Done():
			return nil
		}
	}
}
