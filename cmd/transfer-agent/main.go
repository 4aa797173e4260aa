// Command transfer-agent runs the transfer control-plane machine of §4.2
// as a standalone binary. It holds an AgreementResolver wired either to a
// sibling negotiation-agent over HTTP (split deployment) or directly to a
// shared store (single-binary deployment), per §9's capability-interface
// design note. Mirrors cmd/negotiation-agent's shape.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	negentities "github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/internal/transfer/dataplane"
	trentities "github.com/dscp-io/connector/internal/transfer/entities"
	trorchestrator "github.com/dscp-io/connector/internal/transfer/orchestrator"
	trhttp "github.com/dscp-io/connector/internal/transfer/transport/http"
	trrpc "github.com/dscp-io/connector/internal/transfer/transport/rpc"
	"github.com/dscp-io/connector/pkg/boot"
	"github.com/dscp-io/connector/pkg/config"
	"github.com/dscp-io/connector/pkg/eventbus"
	"github.com/dscp-io/connector/pkg/logging"
	"github.com/dscp-io/connector/pkg/mate"
	"github.com/dscp-io/connector/pkg/repository"
)

func main() {
	app := &cli.App{
		Name:  "transfer-agent",
		Usage: "dataspace transfer control-plane agent",
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
		&cli.StringFlag{Name: "role", EnvVars: []string{"DSCP_ROLE"}, Value: "provider"},
		&cli.StringFlag{Name: "node-did", EnvVars: []string{"DSCP_NODE_DID"}, Required: true},
		&cli.IntFlag{Name: "http-port", EnvVars: []string{"DSCP_HTTP_PORT"}, Value: 8090},
		&cli.IntFlag{Name: "rpc-port", EnvVars: []string{"DSCP_RPC_PORT"}, Value: 8091},
		&cli.StringFlag{Name: "persistence-backend", EnvVars: []string{"DSCP_PERSISTENCE"}, Value: "memory"},
		&cli.StringFlag{Name: "badger-path", EnvVars: []string{"DSCP_BADGER_PATH"}},
		&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"DSCP_REDIS_ADDR"}},
		&cli.StringFlag{Name: "dataplane-base-url", EnvVars: []string{"DSCP_DATAPLANE_URL"}, Usage: "data-plane hook HTTP base URL; stub hook used when unset"},
		&cli.StringFlag{Name: "negotiation-agent-url", EnvVars: []string{"DSCP_NEGOTIATION_URL"}, Usage: "sibling negotiation-agent base URL for remote agreement resolution; in-process resolver used when unset (single-binary deployment)"},
		&cli.StringFlag{Name: "log-level", EnvVars: []string{"DSCP_LOG_LEVEL"}, Value: "info"},
	}
}

func buildConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return nil, err
	}
	cfg := &config.Config{
		Role:               config.Role(c.String("role")),
		NodeDID:            c.String("node-did"),
		HTTPHost:           config.HostConfig{Port: c.Int("http-port")},
		RPCHost:            config.HostConfig{Port: c.Int("rpc-port")},
		PersistenceBackend: config.PersistenceBackend(c.String("persistence-backend")),
		BadgerPath:         c.String("badger-path"),
		RedisAddr:          c.String("redis-addr"),
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
		Usage: "run the transfer agent's HTTP and RPC workers",
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := buildConfig(c)
			if err != nil {
				return err
			}
			logger, err := logging.Named(logging.Config{Level: cfg.LogLevel}, "transfer-agent")
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

			var dpHook dataplane.Hook
			if base := c.String("dataplane-base-url"); base != "" {
				dpHook = dataplane.NewHTTPHook(base, cfg.OutboundTimeout)
			} else {
				dpHook = dataplane.NewStubHook()
				logger.Sugar().Warn("using stub data-plane hook - no real data endpoints are provisioned")
			}

			var resolver trorchestrator.AgreementResolver
			if base := c.String("negotiation-agent-url"); base != "" {
				resolver = trorchestrator.NewRemoteAgreementResolver(base, cfg.OutboundTimeout)
			} else {
				resolver = &trorchestrator.LocalAgreementResolver{
					Agreements: repository.New[negentities.Agreement](store, "negotiation_agreements"),
				}
				logger.Sugar().Info("using in-process agreement resolver (single-binary deployment)")
			}

			orch := &trorchestrator.Orchestrator{
				Sessions:   repository.New[trentities.Session](store, "transfer_sessions"),
				Messages:   repository.New[trentities.Message](store, "transfer_messages"),
				Mates:      mate.NewRepositoryResolver(store, cfg.NodeDID),
				Agreements: resolver,
				DataPlane:  dpHook,
				Events:     events,
				Peer:       &httpPeerSender{client: &http.Client{Timeout: cfg.OutboundTimeout}},
				SelfDID:    cfg.NodeDID,
				Logger:     logger,
			}

			mux := http.NewServeMux()
			(&trhttp.Handler{Orchestrator: orch, Authenticate: stubAuthenticate, Logger: logger}).Mount(mux)
			dspServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPHost.Port), Handler: mux}

			rpcMux := http.NewServeMux()
			(&trrpc.Handler{Orchestrator: orch}).Mount(rpcMux, "/api/v1/transfer/rpc")
			rpcServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.RPCHost.Port), Handler: rpcMux}

			return runUntilSignal(logger, events, dspServer, rpcServer)
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
			logger, err := logging.Named(logging.Config{Level: cfg.LogLevel}, "transfer-agent-setup")
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

			logger.Sugar().Infow("transfer agent setup complete", "nodeDid", cfg.NodeDID, "backend", cfg.PersistenceBackend)
			return nil
		},
	}
}

func stubAuthenticate(r *http.Request) (string, bool) {
	did := r.Header.Get("X-Peer-Did")
	if did == "" {
		return "", false
	}
	return did, true
}

// httpPeerSender is the production trorchestrator.PeerSender, POSTing the
// outbound DSP message to the peer's callback address.
type httpPeerSender struct {
	client *http.Client
}

func (s *httpPeerSender) Send(ctx context.Context, baseURL, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbound payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send outbound request to %s: %w", baseURL+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("outbound request to %s returned status %d", baseURL+path, resp.StatusCode)
	}
	return nil
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
