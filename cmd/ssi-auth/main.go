// Command ssi-auth runs the SSI/GNAP grant machine of §4.3 as a
// standalone binary: the GNAP gate/verifier HTTP surface plus a
// background sweep that expires stale grants. Mirrors
// cmd/negotiation-agent's shape.
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

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	ssientities "github.com/dscp-io/connector/internal/ssiauth/entities"
	ssiorchestrator "github.com/dscp-io/connector/internal/ssiauth/orchestrator"
	ssihttp "github.com/dscp-io/connector/internal/ssiauth/transport/http"
	ssirpc "github.com/dscp-io/connector/internal/ssiauth/transport/rpc"
	"github.com/dscp-io/connector/pkg/boot"
	"github.com/dscp-io/connector/pkg/config"
	"github.com/dscp-io/connector/pkg/eventbus"
	"github.com/dscp-io/connector/pkg/logging"
	"github.com/dscp-io/connector/pkg/mate"
	"github.com/dscp-io/connector/pkg/repository"
	"github.com/dscp-io/connector/pkg/wallet"
)

func main() {
	app := &cli.App{
		Name:  "ssi-auth",
		Usage: "SSI/GNAP grant-negotiation authorization server",
		Commands: []*cli.Command{
			startCommand(),
			setupCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "env-file", Usage: "path to a KEY=VALUE env file"},
		&cli.StringFlag{Name: "node-did", EnvVars: []string{"DSCP_NODE_DID"}, Required: true},
		&cli.IntFlag{Name: "http-port", EnvVars: []string{"DSCP_HTTP_PORT"}, Value: 8100},
		&cli.IntFlag{Name: "rpc-port", EnvVars: []string{"DSCP_RPC_PORT"}, Value: 8101},
		&cli.StringFlag{Name: "persistence-backend", EnvVars: []string{"DSCP_PERSISTENCE"}, Value: "memory"},
		&cli.StringFlag{Name: "badger-path", EnvVars: []string{"DSCP_BADGER_PATH"}},
		&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"DSCP_REDIS_ADDR"}},
		&cli.StringFlag{Name: "continuation-base-uri", EnvVars: []string{"DSCP_CONTINUATION_URI"}, Required: true},
		&cli.StringFlag{Name: "kms-key-id", EnvVars: []string{"DSCP_KMS_KEY_ID"}, Usage: "AWS KMS key id/arn for credential issuance; ephemeral key used when unset"},
		&cli.StringFlag{Name: "aws-region", EnvVars: []string{"AWS_REGION"}},
		&cli.DurationFlag{Name: "sweep-interval", EnvVars: []string{"DSCP_SWEEP_INTERVAL"}, Value: 30 * time.Second},
		&cli.StringFlag{Name: "log-level", EnvVars: []string{"DSCP_LOG_LEVEL"}, Value: "info"},
	}
}

func buildConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return nil, err
	}
	cfg := &config.Config{
		Role:               config.Provider,
		NodeDID:            c.String("node-did"),
		HTTPHost:           config.HostConfig{Port: c.Int("http-port")},
		RPCHost:            config.HostConfig{Port: c.Int("rpc-port")},
		PersistenceBackend: config.PersistenceBackend(c.String("persistence-backend")),
		BadgerPath:         c.String("badger-path"),
		RedisAddr:          c.String("redis-addr"),
		SweepInterval:      c.Duration("sweep-interval"),
		KMSKeyID:           c.String("kms-key-id"),
		AWSRegion:          c.String("aws-region"),
		LogLevel:           c.String("log-level"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the GNAP grant server and its expiry sweep",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := buildConfig(c)
			if err != nil {
				return err
			}
			logger, err := logging.Named(logging.Config{Level: cfg.LogLevel}, "ssi-auth")
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			store, err := boot.NewStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			events := eventbus.New(logger)

			signer, err := boot.NewSigner(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			walletFacade := wallet.NewWallet(cfg.NodeDID, signer, unconfiguredJWKSResolver)

			orch := &ssiorchestrator.Orchestrator{
				Grants:        repository.New[ssientities.Grant](store, "ssiauth_grants"),
				Verifications: repository.New[ssientities.Verification](store, "ssiauth_verifications"),
				Wallet:        walletFacade,
				Mates:         mate.NewRepositoryResolver(store, cfg.NodeDID),
				Events:        events,
				TTL:           ssiorchestrator.DefaultStateTTL(),
				SelfDID:       cfg.NodeDID,
				Logger:        logger,
			}

			mux := http.NewServeMux()
			(&ssihttp.Handler{Orchestrator: orch, Logger: logger, ContinuationBaseURI: c.String("continuation-base-uri")}).Mount(mux)
			gateServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPHost.Port), Handler: mux}

			rpcMux := http.NewServeMux()
			(&ssirpc.Handler{Orchestrator: orch}).Mount(rpcMux, "/api/v1/ssiauth/rpc")
			rpcServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.RPCHost.Port), Handler: rpcMux}

			sweepCtx, stopSweep := context.WithCancel(context.Background())
			defer stopSweep()
			go runSweep(sweepCtx, logger, orch, cfg.SweepInterval)

			return runUntilSignal(logger, events, gateServer, rpcServer)
		},
	}
}

func setupCommand() *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "seed this node's own mate record before the first start",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := buildConfig(c)
			if err != nil {
				return err
			}
			logger, err := logging.Named(logging.Config{Level: cfg.LogLevel}, "ssi-auth-setup")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, err := boot.NewStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			resolver := mate.NewRepositoryResolver(store, cfg.NodeDID)
			if err := resolver.Upsert(c.Context, &mate.Mate{ParticipantID: cfg.NodeDID, IsMe: true}); err != nil {
				return fmt.Errorf("seed mate-me: %w", err)
			}

			logger.Sugar().Infow("ssi-auth setup complete", "nodeDid", cfg.NodeDID, "backend", cfg.PersistenceBackend)
			return nil
		},
	}
}

func unconfiguredJWKSResolver(_ context.Context, issuerDID string) (jwk.Set, error) {
	return nil, fmt.Errorf("jwks resolution for issuer %s not configured", issuerDID)
}

// runSweep periodically expires grants whose per-state TTL has lapsed
// (§4.3's EXPIRED transition), stopping when ctx is cancelled.
func runSweep(ctx context.Context, logger *zap.Logger, orch *ssiorchestrator.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := orch.Sweep(ctx); err != nil {
				logger.Sugar().Errorw("grant expiry sweep failed", "error", err)
			}
		}
	}
}

func runUntilSignal(logger *zap.Logger, events *eventbus.Bus, servers ...*http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		logger.Sugar().Infow("listening", "addr", srv.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Sugar().Info("shutdown signal received")
	case err := <-errCh:
		logger.Sugar().Errorw("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	events.Wait()
	return firstErr
}
