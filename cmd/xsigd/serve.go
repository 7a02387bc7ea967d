package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-xsig/internal/config"
	"github.com/arloliu/go-xsig/internal/discovery"
	"github.com/arloliu/go-xsig/internal/metrics"
	"github.com/arloliu/go-xsig/internal/telemetry"
	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/mqttbridge"
	"github.com/arloliu/go-xsig/xsig"
	"github.com/arloliu/go-xsig/xsigserver"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Example: `  # Listen on the default port with default settings
  xsigd serve

  # Use a configuration file and override the port
  xsigd serve --config xsigd.yaml --port 41794 --log-level debug`,
		RunE: runServe,
	}

	cmd.Flags().String("host", "", "Listen host (empty = all interfaces)")
	cmd.Flags().Int("port", xsigserver.DefaultPort, "Listen port")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}

// loadConfig loads the --config file and applies the serve flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Lookup("host") != nil && flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Lookup("log-level") != nil && flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	l := cfg.Logger()
	logger.SetLogger(l)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvCfg, err := xsigserver.NewServerConfig(cfg.ServerOptions(l)...)
	if err != nil {
		return err
	}

	srv, err := xsigserver.NewServer(ctx, srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(cfg.Server.Host, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer func() { _ = srv.Stop() }()

	l.Info("xsigd started", "version", version, "host", cfg.Server.Host, "port", cfg.Server.Port)

	srv.RegisterSyncAllHandler(func() {
		l.Debug("control system completed a full update")
	})
	defer srv.RegisterCallback(xsig.SystemID, func(ev xsig.Event) error {
		l.Info("control system state changed", "state", ev.System)
		return nil
	})()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Enabled {
		stopBridge, err := startBridge(gctx, cfg.MQTT, srv, l)
		if err != nil {
			return err
		}
		defer stopBridge()
	}

	if cfg.InfluxDB.Enabled {
		w, err := telemetry.Connect(gctx, cfg.InfluxDB, l)
		if err != nil {
			return err
		}
		w.Attach(srv)
		defer w.Close()
	}

	if cfg.Metrics.Enabled {
		if err := startMetrics(gctx, g, cfg.Metrics, srv, l); err != nil {
			return err
		}
	}

	if cfg.Discovery.Enabled {
		adv, err := discovery.Advertise(cfg.Discovery, cfg.Server.Port, version, l)
		if err != nil {
			// mDNS is best effort, e.g. on hosts without multicast
			l.Warn("mDNS advertisement disabled", "error", err)
		} else {
			defer adv.Shutdown()
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	l.Info("xsigd shutting down")

	return err
}

func startBridge(ctx context.Context, cfg config.MQTTConfig, srv *xsigserver.Server, l logger.Logger) (func(), error) {
	topics := mqttbridge.Topics{Prefix: cfg.TopicPrefix}

	client, err := mqttbridge.NewPahoClient(mqttbridge.PahoConfig{
		Host:        cfg.Host,
		Port:        cfg.Port,
		TLS:         cfg.TLS,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		StatusTopic: topics.Status(),
	}, l)
	if err != nil {
		return nil, err
	}

	bridge, err := mqttbridge.New(srv, client,
		mqttbridge.WithTopicPrefix(cfg.TopicPrefix),
		mqttbridge.WithQoS(byte(cfg.QoS)),
		mqttbridge.WithPulseDuration(cfg.PulseDuration),
		mqttbridge.WithLogger(l),
	)
	if err != nil {
		client.Close()
		return nil, err
	}

	if err := bridge.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return func() {
		if err := bridge.Stop(); err != nil {
			l.Warn("failed to stop mqtt bridge", "error", err)
		}
		client.Close()
	}, nil
}

func startMetrics(ctx context.Context, g *errgroup.Group, cfg config.MetricsConfig, srv *xsigserver.Server, l logger.Logger) error {
	reg, err := metrics.NewRegistry(srv)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics address: %w", err)
	}

	httpSrv := metrics.NewHTTPServer(cfg.Listen, metrics.Handler(reg, cfg.Path))
	l.Info("metrics endpoint started", "address", ln.Addr().String(), "path", cfg.Path)

	g.Go(func() error {
		return metrics.Serve(httpSrv, ln)
	})
	g.Go(func() error {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpSrv.Shutdown(sctx)
	})

	return nil
}
