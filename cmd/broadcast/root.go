package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/broadcast"
	"github.com/casualjim/broadcast/internal/config"
	"github.com/casualjim/broadcast/internal/logging"
	"github.com/casualjim/broadcast/pkg/natsx"
	"github.com/casualjim/broadcast/pkg/redisx"
	"github.com/casualjim/broadcast/pkg/slogx"
	"github.com/casualjim/broadcast/pkg/stdx"
	"github.com/casualjim/broadcast/transport"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// app carries the global flags and the configuration they resolve to.
type app struct {
	configFile string
	transport  string
	logLevel   string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "broadcast",
		Short:        "Publish to and observe broadcast channels",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (default ./broadcast.yaml when present)")
	root.PersistentFlags().StringVar(&a.transport, "transport", "", "Transport: local|nats|redis (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	stdx.Must0(root.MarkPersistentFlagFilename("config", "yaml", "yml"))

	root.AddCommand(
		newPublishCommand(a),
		newSubscribeCommand(a),
		newDemoCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.transport != "" {
		cfg.Transport = a.transport
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := logging.Setup(cmd.ErrOrStderr(), cfg.Log.Level); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) openTransport() (transport.Transport, error) {
	switch a.cfg.Transport {
	case config.TransportNATS:
		nc, err := natsx.NewClient(a.cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats at %s: %w", a.cfg.NATS.URL, err)
		}
		return transport.NATS(nc), nil
	case config.TransportRedis:
		return transport.Redis(redisx.NewClient(a.cfg.Redis)), nil
	default:
		return transport.Local(), nil
	}
}

// broker opens the configured transport and starts a broker on it.
func (a *app) broker(ctx context.Context) (*broadcast.Broker, error) {
	t, err := a.openTransport()
	if err != nil {
		return nil, err
	}
	b := broadcast.New(t)
	if err := b.Start(ctx); err != nil {
		shutdown(b)
		return nil, err
	}
	slog.Debug("broker ready", slog.String("transport", a.cfg.Transport))
	return b, nil
}

func shutdown(b *broadcast.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		slog.Warn("broker shutdown failed", slogx.Error(err))
	}
}
