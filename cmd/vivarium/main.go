// Vivarium Core - terrarium environment controller
//
// This is the main entry point for the vivarium controller. It reads
// environmental sensors through an external reader binary, persists
// readings and device state transitions in SQLite, and drives the
// light, mister, and humidifier toward their configured setpoints.
//
// Device state is mirrored to MQTT (retained status topics) and
// InfluxDB (climate telemetry) when those integrations are enabled.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/technoatomic/vivarium-core/migrations"

	"github.com/technoatomic/vivarium-core/internal/actuator"
	"github.com/technoatomic/vivarium-core/internal/device"
	"github.com/technoatomic/vivarium-core/internal/infrastructure/config"
	"github.com/technoatomic/vivarium-core/internal/infrastructure/database"
	"github.com/technoatomic/vivarium-core/internal/infrastructure/influxdb"
	"github.com/technoatomic/vivarium-core/internal/infrastructure/logging"
	"github.com/technoatomic/vivarium-core/internal/infrastructure/mqtt"
	"github.com/technoatomic/vivarium-core/internal/policy"
	"github.com/technoatomic/vivarium-core/internal/schedule"
	"github.com/technoatomic/vivarium-core/internal/sensor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Vivarium Core",
		"version", version,
		"commit", commit,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	statusStore := device.NewSQLiteStatusStore(db.DB)
	readingStore := sensor.NewSQLiteStore(db.DB)

	// Connect to MQTT broker (optional)
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
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	gateway := schedule.NewTimer()
	defer gateway.Close()

	mirror := newStateMirror(log, mqttClient, influxClient)

	// Light: GPIO relay driven by the daily schedule window.
	lightBackend, err := actuator.NewPin(cfg.Devices.Light.Pin, "vivarium_light")
	if err != nil {
		return fmt.Errorf("acquiring light pin: %w", err)
	}
	defer closeBackend(log, "light", lightBackend)

	lightCtrl, err := newController(ctx, cfg.Devices.Light.DeviceID, lightBackend, statusStore, log, mirror)
	if err != nil {
		return fmt.Errorf("initialising light controller: %w", err)
	}

	lightWindow, err := buildWindow(cfg.Devices.Light)
	if err != nil {
		return fmt.Errorf("parsing light window: %w", err)
	}
	log.Info("light window configured",
		"start", cfg.Devices.Light.WindowStart,
		"end", cfg.Devices.Light.WindowEnd,
	)

	// Mister: GPIO relay pulsed below the humidity threshold.
	misterBackend, err := actuator.NewPin(cfg.Devices.Mister.Pin, "vivarium_mister")
	if err != nil {
		return fmt.Errorf("acquiring mister pin: %w", err)
	}
	defer closeBackend(log, "mister", misterBackend)

	misterCtrl, err := newController(ctx, cfg.Devices.Mister.DeviceID, misterBackend, statusStore, log, mirror)
	if err != nil {
		return fmt.Errorf("initialising mister controller: %w", err)
	}

	misterPolicy, err := policy.New(policy.Config{
		Mode:             policy.ModePulsed,
		SensorID:         cfg.Sensor.ID,
		Measurement:      sensor.MeasurementHumidity,
		Target:           cfg.Devices.Mister.HumidityThreshold,
		MinReArmInterval: cfg.MisterMinInterval(),
		RunDuration:      cfg.MisterRunDuration(),
		MaxReadingAge:    maxReadingAge(cfg),
	}, misterCtrl, readingStore, gateway)
	if err != nil {
		return fmt.Errorf("building mister policy: %w", err)
	}
	misterPolicy.SetLogger(log)

	policies := []*policy.Policy{misterPolicy}
	controllers := map[string]*device.Controller{
		lightCtrl.DeviceID():  lightCtrl,
		misterCtrl.DeviceID(): misterCtrl,
	}

	// Humidifier: cloud session, only when an account is configured.
	if cfg.Devices.Humidifier.Remote.BaseURL != "" {
		humidifierBackend, remoteErr := actuator.NewRemote(ctx, actuator.RemoteConfig{
			BaseURL:    cfg.Devices.Humidifier.Remote.BaseURL,
			Username:   cfg.Devices.Humidifier.Remote.Username,
			Password:   cfg.Devices.Humidifier.Remote.Password,
			DeviceName: cfg.Devices.Humidifier.Remote.DeviceName,
		})
		if remoteErr != nil {
			return fmt.Errorf("establishing humidifier session: %w", remoteErr)
		}
		defer closeBackend(log, "humidifier", humidifierBackend)

		humidifierCtrl, ctrlErr := newController(ctx, cfg.Devices.Humidifier.DeviceID, humidifierBackend, statusStore, log, mirror)
		if ctrlErr != nil {
			return fmt.Errorf("initialising humidifier controller: %w", ctrlErr)
		}

		humidifierPolicy, polErr := policy.New(policy.Config{
			Mode:          policy.ModeHysteresis,
			SensorID:      cfg.Sensor.ID,
			Measurement:   sensor.MeasurementHumidity,
			Target:        cfg.Devices.Humidifier.TargetHumidity,
			Hysteresis:    cfg.Devices.Humidifier.Hysteresis,
			RunDuration:   cfg.HumidifierRunDuration(),
			MaxReadingAge: maxReadingAge(cfg),
		}, humidifierCtrl, readingStore, gateway)
		if polErr != nil {
			return fmt.Errorf("building humidifier policy: %w", polErr)
		}
		humidifierPolicy.SetLogger(log)

		policies = append(policies, humidifierPolicy)
		controllers[humidifierCtrl.DeviceID()] = humidifierCtrl
	} else {
		log.Info("humidifier disabled (no cloud account configured)")
	}

	// Boot safety forced everything off; any run intent left in the log
	// belongs to a previous process and is resolved here.
	for _, p := range policies {
		if restoreErr := p.Restore(ctx); restoreErr != nil {
			log.Warn("restoring pending run state", "error", restoreErr)
		}
	}

	probe, err := sensor.NewProbe(sensor.ProbeConfig{
		SensorID: cfg.Sensor.ID,
		Binary:   cfg.Sensor.ReaderBinary,
		Args:     cfg.Sensor.ReaderArgs,
		Timeout:  cfg.SensorTimeout(),
	}, readingStore)
	if err != nil {
		return fmt.Errorf("building sensor probe: %w", err)
	}
	probe.SetLogger(log)

	loop := &controlLoop{
		cfg:         cfg,
		log:         log,
		probe:       probe,
		policies:    policies,
		lightCtrl:   lightCtrl,
		lightWindow: lightWindow,
		controllers: controllers,
		mirror:      mirror,
	}

	if mqttClient != nil {
		if subErr := loop.subscribeCommands(ctx, mqttClient); subErr != nil {
			return fmt.Errorf("subscribing to command topics: %w", subErr)
		}
		log.Info("manual control subscription active", "topic", mqtt.Topics{}.AllDeviceCommands())
	}

	log.Info("initialisation complete, control loop running",
		"interval", cfg.SensorInterval(),
	)

	loop.run(ctx)

	log.Info("shutdown signal received, cleaning up")
	log.Info("Vivarium Core stopped")
	return nil
}

// newController builds a controller with logging and state mirroring wired in.
func newController(ctx context.Context, deviceID string, backend actuator.Backend, store device.StatusStore, log *logging.Logger, mirror *stateMirror) (*device.Controller, error) {
	ctrl, err := device.NewController(ctx, deviceID, backend, store)
	if err != nil {
		return nil, err
	}
	ctrl.SetLogger(log)
	ctrl.SetOnTransition(mirror.publish)
	return ctrl, nil
}

// closeBackend releases an actuator backend, logging any failure.
func closeBackend(log *logging.Logger, name string, backend actuator.Backend) {
	if err := backend.Close(); err != nil {
		log.Error("error releasing backend", "device", name, "error", err)
	}
}

// buildWindow converts the configured HH:MM pair into a schedule window.
func buildWindow(cfg config.LightConfig) (device.Window, error) {
	start, err := config.ParseTimeOfDay(cfg.WindowStart)
	if err != nil {
		return device.Window{}, err
	}
	end, err := config.ParseTimeOfDay(cfg.WindowEnd)
	if err != nil {
		return device.Window{}, err
	}
	return device.Window{Start: start, End: end}, nil
}

// maxReadingAge bounds how old a reading may be before policies treat
// it as missing: two acquisition intervals plus the probe timeout.
func maxReadingAge(cfg *config.Config) time.Duration {
	return 2*cfg.SensorInterval() + cfg.SensorTimeout()
}

// getConfigPath returns the configuration file path.
// Uses VIVARIUM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VIVARIUM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// stateMirror publishes device transitions to MQTT and InfluxDB.
type stateMirror struct {
	log    *logging.Logger
	mqtt   *mqtt.Client
	influx *influxdb.Client
}

func newStateMirror(log *logging.Logger, mqttClient *mqtt.Client, influxClient *influxdb.Client) *stateMirror {
	return &stateMirror{log: log, mqtt: mqttClient, influx: influxClient}
}

// publish mirrors one transition. Failures are logged, never propagated:
// the SQLite status log is the source of truth and has already committed.
func (m *stateMirror) publish(rec device.StatusRecord) {
	cause, _ := rec.Payload[device.PayloadKeyCause].(string)

	if m.mqtt != nil {
		payload, err := json.Marshal(map[string]any{
			"device_id":   rec.DeviceID,
			"is_on":       rec.IsOn,
			"cause":       cause,
			"recorded_at": rec.RecordedAt.Format(time.RFC3339),
		})
		if err == nil {
			topic := mqtt.Topics{}.DeviceStatus(rec.DeviceID)
			if pubErr := m.mqtt.PublishRetained(topic, payload); pubErr != nil {
				m.log.Warn("publishing device status", "device_id", rec.DeviceID, "error", pubErr)
			}
		}
	}

	if m.influx != nil {
		m.influx.WriteDeviceState(rec.DeviceID, rec.IsOn, cause, rec.RecordedAt)
	}
}

// controlLoop owns the periodic evaluation cycle.
//
// The mutex serialises scheduled evaluation against manual MQTT
// commands so no controller sees concurrent reconciles.
type controlLoop struct {
	cfg         *config.Config
	log         *logging.Logger
	probe       *sensor.Probe
	policies    []*policy.Policy
	lightCtrl   *device.Controller
	lightWindow device.Window
	controllers map[string]*device.Controller
	mirror      *stateMirror

	mu sync.Mutex
}

// run ticks until the context is cancelled. The first cycle runs
// immediately so a restart does not wait a full interval to act.
func (l *controlLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SensorInterval())
	defer ticker.Stop()

	l.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one acquisition and evaluation cycle.
func (l *controlLoop) tick(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reading, err := l.probe.Run(ctx)
	if err != nil {
		l.log.Warn("sensor acquisition failed", "error", err)
	} else {
		l.publishTelemetry(reading)
	}

	for _, p := range l.policies {
		outcome, evalErr := p.Evaluate(ctx)
		if evalErr != nil {
			l.log.Warn("policy evaluation failed", "error", evalErr)
			continue
		}
		l.log.Debug("policy evaluated",
			"action", string(outcome.Action),
			"value", outcome.Value,
		)
	}

	if _, err := l.lightCtrl.Reconcile(ctx, device.Request{
		Window:  &l.lightWindow,
		Payload: device.Payload{device.PayloadKeyCause: device.CauseSchedule},
	}); err != nil {
		l.log.Warn("light reconcile failed", "error", err)
	}
}

// publishTelemetry mirrors a fresh reading to MQTT and InfluxDB.
func (l *controlLoop) publishTelemetry(reading *sensor.Reading) {
	if l.mirror.influx != nil {
		l.mirror.influx.WriteClimateReading(reading.SensorID, reading.Values, reading.RecordedAt)
	}

	if l.mirror.mqtt != nil {
		payload, err := json.Marshal(map[string]any{
			"sensor_id":   reading.SensorID,
			"values":      reading.Values,
			"recorded_at": reading.RecordedAt.Format(time.RFC3339),
		})
		if err == nil {
			topic := mqtt.Topics{}.SensorReading(reading.SensorID)
			if pubErr := l.mirror.mqtt.PublishTelemetry(topic, payload); pubErr != nil {
				l.log.Warn("publishing telemetry", "error", pubErr)
			}
		}
	}
}

// subscribeCommands wires manual on/off control over MQTT.
//
// Payloads are JSON: {"on": true} or {"on": false}. Commands address
// one device and reconcile with cause manual; unknown devices and
// malformed payloads are rejected with a log line.
func (l *controlLoop) subscribeCommands(ctx context.Context, client *mqtt.Client) error {
	topic := mqtt.Topics{}.AllDeviceCommands()
	qos := byte(l.cfg.MQTT.QoS)

	return client.Subscribe(topic, qos, func(msgTopic string, payload []byte) error {
		deviceID, ok := mqtt.DeviceIDFromCommandTopic(msgTopic)
		if !ok {
			return fmt.Errorf("unrecognised command topic %q", msgTopic)
		}

		ctrl, ok := l.controllers[deviceID]
		if !ok {
			return fmt.Errorf("no controller for device %q", deviceID)
		}

		var cmd struct {
			On *bool `json:"on"`
		}
		if err := json.Unmarshal(payload, &cmd); err != nil || cmd.On == nil {
			return errors.New("command payload must be {\"on\": true|false}")
		}

		l.mu.Lock()
		defer l.mu.Unlock()

		result, err := ctrl.Reconcile(ctx, device.Request{
			Desired: cmd.On,
			Payload: device.Payload{device.PayloadKeyCause: device.CauseManual},
		})
		if err != nil {
			return fmt.Errorf("manual reconcile for %s: %w", deviceID, err)
		}

		l.log.Info("manual command applied",
			"device_id", deviceID,
			"state", result.NewState,
			"changed", result.Changed,
		)
		return nil
	})
}
