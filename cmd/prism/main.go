// Prism - real-time Home Assistant event stream for the desk panel.
//
// This is the main entry point. Prism keeps one authenticated websocket
// open to the hub, forwards state changes for the entities the panel shows,
// surfaces persistent notifications, and reconnects with backoff whenever
// the connection drops.
//
// Optional outputs:
//   - MQTT relay republishing state and notifications (mqtt.enabled)
//   - Local status server with health, status and an event stream (status.enabled)
//
// Send SIGHUP to reload the configuration file without restarting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/prism-core/internal/api"
	"github.com/nerrad567/prism-core/internal/infrastructure/config"
	"github.com/nerrad567/prism-core/internal/infrastructure/logging"
	"github.com/nerrad567/prism-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/prism-core/internal/realtime"
	"github.com/nerrad567/prism-core/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path, used when it exists and PRISM_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long the supervisor may take to stop.
const shutdownTimeout = 5 * time.Second

// tokenExpiryWarning is how far ahead an expiring hub token is reported.
const tokenExpiryWarning = 7 * 24 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Prism",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"hub", cfg.Hub.URL,
		"token", logging.Redact(cfg.Hub.Token),
		"level", cfg.Logging.Level,
	)
	checkToken(log, cfg.Hub.Token, time.Now())

	conn := realtime.NewConnectionConfig(cfg.Hub.URL, cfg.Hub.Token)
	subs := realtime.NewSubscriptions(cfg.WatchedEntities()...)
	log.Info("subscriptions seeded", "entities", subs.Len())

	dispatcher := realtime.NewDispatcher()
	defer dispatcher.Close()

	client := realtime.NewClient(clientConfig(cfg.Realtime), conn, subs, dispatcher)
	client.SetLogger(log.With("component", "realtime"))

	supervisor := realtime.NewSupervisor(client, backoffPolicy(cfg.Realtime.Backoff), dispatcher)
	supervisor.SetConnectionConfig(conn)
	supervisor.SetLogger(log.With("component", "supervisor"))

	tracker := realtime.NewStatusTracker()
	observers := realtime.Observers{newLogObserver(log), tracker}

	var mqttRelay *relay.MQTTRelay
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)

		mqttRelay = relay.NewMQTTRelay(mqttClient, mqttClient.Topics())
		mqttRelay.SetLogger(log.With("component", "relay"))
		observers = append(observers, mqttRelay)
	} else {
		log.Info("MQTT relay disabled")
	}

	if cfg.Status.Enabled {
		deps := api.Deps{
			Config:        cfg.Status,
			Logger:        log.With("component", "api"),
			Tracker:       tracker,
			Subscriptions: subs,
			Client:        client,
			Supervisor:    supervisor,
			Version:       version,
		}
		if mqttRelay != nil {
			deps.Relay = mqttRelay
			deps.MQTT = mqttClient
		}
		srv, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating status server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting status server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
		observers = append(observers, srv.Hub())
	} else {
		log.Info("status server disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		consume(gctx, dispatcher.Events(), observers)
		return nil
	})

	g.Go(func() error {
		watchReload(gctx, configPath, conn, subs, log)
		return nil
	})

	if err := supervisor.Start(gctx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return supervisor.Shutdown(shutdownCtx)
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Prism stopped")
	return nil
}

// getConfigPath returns the configuration file path. PRISM_CONFIG wins;
// otherwise the default path is used if the file exists, and no file at
// all (defaults plus environment) if it does not.
func getConfigPath() string {
	if path := os.Getenv(config.EnvConfigPath); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// consume hands dispatched events to the observers until ctx ends or the
// dispatcher closes.
func consume(ctx context.Context, events <-chan realtime.Event, observers realtime.Observers) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			realtime.Deliver(ev, observers...)
		}
	}
}

// watchReload reloads the configuration on SIGHUP until ctx ends.
func watchReload(ctx context.Context, path string, conn *realtime.ConnectionConfig, subs *realtime.Subscriptions, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(path, conn, subs, log); err != nil {
				log.Error("configuration reload failed, keeping current settings", "error", err)
			}
		}
	}
}

// reload applies a fresh configuration to the running connection. New
// credentials drop the live socket so the next attempt uses them; the
// subscription set is replaced from the panel configuration.
func reload(path string, conn *realtime.ConnectionConfig, subs *realtime.Subscriptions, log *logging.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	changed := conn.Set(cfg.Hub.URL, cfg.Hub.Token)
	subs.Replace(cfg.WatchedEntities())
	log.Info("configuration reloaded",
		"credentials_changed", changed,
		"entities", subs.Len(),
	)
	if changed {
		checkToken(log, cfg.Hub.Token, time.Now())
	}
	return nil
}

// checkToken warns when the hub token has expired or expires soon. Tokens
// that are not JWTs are left alone; the hub has the final word.
func checkToken(log *logging.Logger, token string, now time.Time) {
	if token == "" {
		log.Warn("no hub token configured, waiting for configuration")
		return
	}
	exp, ok, err := config.TokenExpiry(token)
	switch {
	case err != nil:
		log.Debug("hub token expiry unknown", "error", err)
	case !ok:
	case !exp.After(now):
		log.Error("hub token has expired", "expired_at", exp)
	case exp.Sub(now) < tokenExpiryWarning:
		log.Warn("hub token expires soon", "expires_at", exp)
	}
}

func clientConfig(rt config.RealtimeConfig) realtime.ClientConfig {
	return realtime.ClientConfig{
		PollInterval:     rt.PollInterval,
		ConnectTimeout:   rt.ConnectTimeout,
		HandshakeTimeout: rt.HandshakeTimeout,
		WriteTimeout:     rt.WriteTimeout,
		MaxMessageSize:   rt.MaxMessageSize,
	}
}

func backoffPolicy(b config.BackoffConfig) realtime.BackoffPolicy {
	return realtime.BackoffPolicy{
		Initial:          b.Initial,
		Multiplier:       b.Multiplier,
		Max:              b.Max,
		SustainedReset:   b.SustainedReset,
		AuthFailureDelay: b.AuthFailureDelay,
	}
}
