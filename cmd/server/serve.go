package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fakeclientrepo "github.com/jrsteele09/go-oidc-provider/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-provider/events"
	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/grants/memstore"
	"github.com/jrsteele09/go-oidc-provider/grants/redisstore"
	"github.com/jrsteele09/go-oidc-provider/grants/sqlstore"
	"github.com/jrsteele09/go-oidc-provider/internal/config"
	"github.com/jrsteele09/go-oidc-provider/resources/repofake"
	"github.com/jrsteele09/go-oidc-provider/server"
	"github.com/jrsteele09/go-oidc-provider/server/authflowrepo"
	"github.com/jrsteele09/go-oidc-provider/server/loginsession"
	"github.com/jrsteele09/go-oidc-provider/token"
	fakeuserrepo "github.com/jrsteele09/go-oidc-provider/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		displayAppname(cfg.GetAppName())
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

// stores are the persistence backends selected by STORE_DRIVER.
type stores struct {
	grants       grants.Store
	sessions     loginsession.Repo
	interactions authflowrepo.Repo
	close        func() error
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	switch cfg.GetStoreDriver() {
	case config.StoreRedis:
		rs, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:      cfg.GetRedisAddr(),
			Password:  cfg.GetRedisPassword(),
			DB:        cfg.GetRedisDB(),
			KeyPrefix: cfg.GetRedisKeyPrefix() + ":",
		})
		if err != nil {
			return nil, err
		}
		return &stores{
			grants:       rs,
			sessions:     loginsession.NewRedisLoginSessionRepo(rs.Client(), cfg.GetRedisKeyPrefix()),
			interactions: authflowrepo.NewRedisRepo(rs.Client(), cfg.GetRedisKeyPrefix(), authflowrepo.DefaultTTL),
			close:        rs.Close,
		}, nil
	case config.StoreSQLite:
		ss, err := sqlstore.Open(ctx, cfg.GetSQLiteDSN())
		if err != nil {
			return nil, err
		}
		return &stores{
			grants:       ss,
			sessions:     loginsession.NewInMemoryLoginSessionRepo(time.Now),
			interactions: authflowrepo.NewInMemoryRepo(),
			close:        ss.Close,
		}, nil
	default:
		return &stores{
			grants:       memstore.New(),
			sessions:     loginsession.NewInMemoryLoginSessionRepo(time.Now),
			interactions: authflowrepo.NewInMemoryRepo(),
			close:        func() error { return nil },
		}, nil
	}
}

// loadSigningKey reads SIGNING_KEY_FILE, or generates a key that lives as long as the process.
func loadSigningKey(cfg config.Config) (*token.InMemoryKeyProvider, error) {
	var (
		kp  *token.KeyPair
		err error
	)
	if file := cfg.GetSigningKeyFile(); file != "" {
		data, readErr := os.ReadFile(file)
		if readErr != nil {
			return nil, fmt.Errorf("read signing key: %w", readErr)
		}
		kp, err = token.LoadKeyPairFromPEM(data, cfg.GetSigningAlgorithm(), "")
	} else {
		log.Warn().Str("alg", cfg.GetSigningAlgorithm()).Msg("SIGNING_KEY_FILE not set, generating an ephemeral signing key")
		kp, err = token.GenerateKeyPair(cfg.GetSigningAlgorithm())
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("kid", kp.KeyID).Str("alg", kp.Algorithm).Msg("signing key loaded")
	return token.NewInMemoryKeyProvider(kp)
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsSink, err := events.NewMetricsSink(reg)
	if err != nil {
		return err
	}
	eventService := events.NewService(
		events.WithSink(events.NewLogSink(logger)),
		events.WithSink(metricsSink),
		events.WithLogger(logger),
	)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Err(err).Msg("failed to close grant store")
		}
	}()

	manager, err := grants.NewManager(st.grants, grants.WithLogger(logger), grants.WithEvents(eventService))
	if err != nil {
		return err
	}
	keys, err := loadSigningKey(cfg)
	if err != nil {
		return err
	}

	clientRepo := fakeclientrepo.NewFakeClientRepo()
	resourceRepo := repofake.NewFakeResourceRepo()
	userRepo := fakeuserrepo.NewFakeUserRepo()
	seed, err := server.LoadSeed(cfg.GetSeedFile(), cfg.GetIssuer(), logger)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, cfg, server.SeedTargets{Clients: clientRepo, Resources: resourceRepo, Users: userRepo}, logger); err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Components{
		Clients:      clientRepo,
		Resources:    resourceRepo,
		Users:        userRepo,
		Grants:       manager,
		Keys:         keys,
		Events:       eventService,
		Sessions:     st.sessions,
		Interactions: st.interactions,
	}, server.WithLogger(logger), server.WithMetricsGatherer(reg))
	if err != nil {
		return err
	}

	sweeper, err := grants.NewSweeper(st.grants,
		grants.WithSweepInterval(cfg.GetSweepInterval()),
		grants.WithSweepBatchSize(cfg.GetSweepBatchSize()),
		grants.WithSweeperLogger(logger))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.GetPort(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listenAndServe(httpServer)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(httpServer)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Msg("server stopped")
	return err
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
