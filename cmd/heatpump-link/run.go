package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/heatpump-link/internal/api"
	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
	"github.com/nerrad567/heatpump-link/internal/infrastructure/logging"
	"github.com/nerrad567/heatpump-link/internal/infrastructure/metrics"
	"github.com/nerrad567/heatpump-link/internal/infrastructure/mqtt"
)

var cycles int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the serial to MQTT bridge",
	Long: `Open the serial line, connect to the broker, publish the parameter
snapshot and poll values until interrupted.

--cycles N stops after N poll cycles, which is useful for checking wiring
and broker access without leaving the bridge running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		override := -1
		if cmd.Flags().Changed("cycles") {
			override = cycles
		}
		return run(cmd.Context(), getConfigPath(), override)
	},
}

func init() {
	runCmd.Flags().IntVarP(&cycles, "cycles", "n", 0, "Stop after N poll cycles (0 runs until interrupted)")
	rootCmd.AddCommand(runCmd)
}

// run is the bridge lifecycle, separated from the command for testability.
// A negative cycleOverride keeps the configured poll.cycles.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfgPath string, cycleOverride int) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting heatpump-link",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cycleOverride >= 0 {
		cfg.Poll.Cycles = cycleOverride
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", cfgPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	recorder := metrics.New()

	// Open the device line
	port, err := heatpump.OpenSerialPort(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	session, err := heatpump.NewSession(port, heatpump.SessionConfig{
		ResponseTimeout:  cfg.Serial.ResponseTimeout,
		MaxResponseBytes: cfg.Serial.MaxResponseBytes,
		Metrics:          recorder,
	})
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("creating session: %w", err)
	}
	session.SetLogger(log.With("component", "session"))
	// The bridge closes the session when it returns; Close is idempotent.
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing serial port", "error", closeErr)
		}
	}()
	log.Info("serial port open", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT bus connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT bus lost, publishing paused until reconnect", "error", err)
	})
	defer func() {
		log.Info("closing MQTT connection")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"topic_prefix", cfg.MQTT.TopicPrefix,
	)

	bridge, err := heatpump.NewBridge(heatpump.BridgeOptions{
		Device:        session,
		MQTTClient:    &mqttBridgeAdapter{client: mqttClient},
		Topics:        mqttClient.Topics(),
		Interval:      cfg.Poll.Interval,
		PhaseOffset:   cfg.Poll.PhaseOffset,
		NoPhaseOffset: cfg.Poll.PhaseOffset == 0,
		SleepSlice:    cfg.Poll.SleepSlice,
		MaxCycles:     cfg.Poll.Cycles,
		QuietWindow: heatpump.QuietWindow{
			Lead:  cfg.Poll.QuietWindow.Lead,
			Width: cfg.Poll.QuietWindow.Width,
		},
		Logger:  log.With("component", "bridge"),
		Metrics: recorder,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if err := recorder.RegisterValues(bridge.Poller()); err != nil {
		return fmt.Errorf("registering value metrics: %w", err)
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			Poller:  bridge.Poller(),
			Session: session,
			MQTT:    mqttClient,
			Metrics: recorder.Handler(),
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("heatpump-link started",
		"interval", cfg.Poll.Interval.String(),
		"phase_offset", cfg.Poll.PhaseOffset.String(),
		"cycles", cfg.Poll.Cycles,
	)

	if err := bridge.Run(ctx); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	log.Info("shutting down heatpump-link", "cycles", bridge.Poller().CycleCount())
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The bridge's set handler has no error return:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects:      func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements heatpump.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements heatpump.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements heatpump.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements heatpump.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
