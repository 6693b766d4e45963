package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Device    DeviceConfig    `json:"device" yaml:"device"`
	Signal    SignalConfig    `json:"signal" yaml:"signal"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
	Fusion    FusionConfig    `json:"fusion" yaml:"fusion"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Emergency EmergencyConfig `json:"emergency" yaml:"emergency"`
	Cloud     CloudConfig     `json:"cloud" yaml:"cloud"`
	Outbox    OutboxConfig    `json:"outbox" yaml:"outbox"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type DeviceConfig struct {
	// KeyHex is the 32-byte packet encryption key, hex encoded.
	KeyHex string `json:"key_hex" yaml:"key_hex"`
	// Characteristics maps BLE characteristic UUIDs to frame kinds
	// (ecg, ppg, imu, troponin, blood_pressure, glucose, spo2, battery).
	Characteristics map[string]string `json:"characteristics" yaml:"characteristics"`
	QueueDepth      int               `json:"queue_depth" yaml:"queue_depth"`
	FrameBuffer     int               `json:"frame_buffer" yaml:"frame_buffer"`
	MQTT            MQTTConfig        `json:"mqtt" yaml:"mqtt"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Topic    string `json:"topic" yaml:"topic"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type SignalConfig struct {
	ECGSampleRate  float64 `json:"ecg_sample_rate" yaml:"ecg_sample_rate"`
	PPGSampleRate  float64 `json:"ppg_sample_rate" yaml:"ppg_sample_rate"`
	BandLowHz      float64 `json:"band_low_hz" yaml:"band_low_hz"`
	BandHighHz     float64 `json:"band_high_hz" yaml:"band_high_hz"`
	NotchHz        float64 `json:"notch_hz" yaml:"notch_hz"`
	PeakFraction   float64 `json:"peak_fraction" yaml:"peak_fraction"`
	FallThresholdG float64 `json:"fall_threshold_g" yaml:"fall_threshold_g"`
	RingCapacity   int     `json:"ring_capacity" yaml:"ring_capacity"`
}

type InferenceConfig struct {
	ModelDir      string        `json:"model_dir" yaml:"model_dir"`
	LatencyBudget time.Duration `json:"latency_budget" yaml:"latency_budget"`
}

type FusionConfig struct {
	CloudWeight        float64       `json:"cloud_weight" yaml:"cloud_weight"`
	EdgeWeight         float64       `json:"edge_weight" yaml:"edge_weight"`
	MinCloudConfidence float64       `json:"min_cloud_confidence" yaml:"min_cloud_confidence"`
	MaxCloudAge        time.Duration `json:"max_cloud_age" yaml:"max_cloud_age"`
	CriticalThreshold  float64       `json:"critical_threshold" yaml:"critical_threshold"`
	TrendDelta         float64       `json:"trend_delta" yaml:"trend_delta"`
	CycleInterval      time.Duration `json:"cycle_interval" yaml:"cycle_interval"`
}

type AlertsConfig struct {
	MinConfidence       float64       `json:"min_confidence" yaml:"min_confidence"`
	Cooldown            time.Duration `json:"cooldown" yaml:"cooldown"`
	CriticalThreshold   float64       `json:"critical_threshold" yaml:"critical_threshold"`
	EmergencyConfidence float64       `json:"emergency_confidence" yaml:"emergency_confidence"`
	DedupeWindow        time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	StoreLimit          int           `json:"store_limit" yaml:"store_limit"`
}

type ContactConfig struct {
	Name     string `json:"name" yaml:"name"`
	Phone    string `json:"phone" yaml:"phone"`
	Priority int    `json:"priority" yaml:"priority"`
}

type EmergencyConfig struct {
	EntryThreshold   float64         `json:"entry_threshold" yaml:"entry_threshold"`
	CountdownSeconds int             `json:"countdown_seconds" yaml:"countdown_seconds"`
	TickInterval     time.Duration   `json:"tick_interval" yaml:"tick_interval"`
	CountryCode      string          `json:"country_code" yaml:"country_code"`
	FallbackNumbers  []string        `json:"fallback_numbers" yaml:"fallback_numbers"`
	Contacts         []ContactConfig `json:"contacts" yaml:"contacts"`
	GatewayURL       string          `json:"gateway_url" yaml:"gateway_url"`
	RequestTimeout   time.Duration   `json:"request_timeout" yaml:"request_timeout"`
}

type CloudConfig struct {
	MQTT MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	REST CloudRESTConfig `json:"rest" yaml:"rest"`
}

type CloudRESTConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	URL      string        `json:"url" yaml:"url"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

type OutboxConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Path          string        `json:"path" yaml:"path"`
	Brokers       []string      `json:"brokers" yaml:"brokers"`
	Topic         string        `json:"topic" yaml:"topic"`
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	BaseBackoff   time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff    time.Duration `json:"max_backoff" yaml:"max_backoff"`
	DrainInterval time.Duration `json:"drain_interval" yaml:"drain_interval"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Device: DeviceConfig{
			Characteristics: map[string]string{
				"0000ecg1-0000-1000-8000-00805f9b34fb": "ecg",
				"0000ppg1-0000-1000-8000-00805f9b34fb": "ppg",
				"0000imu1-0000-1000-8000-00805f9b34fb": "imu",
				"0000trop-0000-1000-8000-00805f9b34fb": "troponin",
				"0000bp01-0000-1000-8000-00805f9b34fb": "blood_pressure",
				"0000glu1-0000-1000-8000-00805f9b34fb": "glucose",
				"0000spo2-0000-1000-8000-00805f9b34fb": "spo2",
				"0000batt-0000-1000-8000-00805f9b34fb": "battery",
			},
			QueueDepth:  256,
			FrameBuffer: 1024,
			MQTT:        MQTTConfig{Enabled: false},
		},
		Signal: SignalConfig{
			ECGSampleRate:  250,
			PPGSampleRate:  100,
			BandLowHz:      0.5,
			BandHighHz:     40,
			NotchHz:        50,
			PeakFraction:   0.6,
			FallThresholdG: 2.5,
			RingCapacity:   1500,
		},
		Inference: InferenceConfig{
			ModelDir:      "models",
			LatencyBudget: 100 * time.Millisecond,
		},
		Fusion: FusionConfig{
			CloudWeight:        0.7,
			EdgeWeight:         0.3,
			MinCloudConfidence: 0.3,
			MaxCloudAge:        1 * time.Hour,
			CriticalThreshold:  0.85,
			TrendDelta:         0.1,
			CycleInterval:      5 * time.Second,
		},
		Alerts: AlertsConfig{
			MinConfidence:       0.2,
			Cooldown:            15 * time.Minute,
			CriticalThreshold:   0.85,
			EmergencyConfidence: 0.9,
			DedupeWindow:        1 * time.Second,
			StoreLimit:          1000,
		},
		Emergency: EmergencyConfig{
			EntryThreshold:   0.9,
			CountdownSeconds: 10,
			TickInterval:     1 * time.Second,
			CountryCode:      "DEFAULT",
			FallbackNumbers:  []string{"112", "911", "999", "000"},
			RequestTimeout:   10 * time.Second,
		},
		Cloud: CloudConfig{
			MQTT: MQTTConfig{Enabled: false, Topic: "vitalguard/predictions"},
			REST: CloudRESTConfig{Enabled: false, Interval: 30 * time.Second, Timeout: 10 * time.Second},
		},
		Outbox: OutboxConfig{
			Enabled:       false,
			Path:          "file:outbox.db?_pragma=busy_timeout(5000)",
			Topic:         "vitalguard.telemetry",
			MaxAttempts:   5,
			BaseBackoff:   2 * time.Second,
			MaxBackoff:    5 * time.Minute,
			DrainInterval: 3 * time.Second,
			BatchSize:     64,
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:vitalguard.db?_pragma=busy_timeout(5000)"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Device.QueueDepth <= 0 {
		cfg.Device.QueueDepth = 256
	}
	if cfg.Device.FrameBuffer <= 0 {
		cfg.Device.FrameBuffer = 1024
	}
	if cfg.Signal.ECGSampleRate <= 0 {
		cfg.Signal.ECGSampleRate = 250
	}
	if cfg.Signal.PPGSampleRate <= 0 {
		cfg.Signal.PPGSampleRate = 100
	}
	if cfg.Signal.PeakFraction <= 0 {
		cfg.Signal.PeakFraction = 0.6
	}
	if cfg.Signal.FallThresholdG <= 0 {
		cfg.Signal.FallThresholdG = 2.5
	}
	if cfg.Signal.RingCapacity <= 0 {
		cfg.Signal.RingCapacity = 1500
	}
	if cfg.Fusion.CloudWeight <= 0 {
		cfg.Fusion.CloudWeight = 0.7
	}
	if cfg.Fusion.EdgeWeight <= 0 {
		cfg.Fusion.EdgeWeight = 0.3
	}
	if cfg.Fusion.MaxCloudAge <= 0 {
		cfg.Fusion.MaxCloudAge = 1 * time.Hour
	}
	if cfg.Fusion.CriticalThreshold <= 0 {
		cfg.Fusion.CriticalThreshold = 0.85
	}
	if cfg.Fusion.TrendDelta <= 0 {
		cfg.Fusion.TrendDelta = 0.1
	}
	if cfg.Fusion.CycleInterval <= 0 {
		cfg.Fusion.CycleInterval = 5 * time.Second
	}
	if cfg.Alerts.MinConfidence <= 0 {
		cfg.Alerts.MinConfidence = 0.2
	}
	if cfg.Alerts.Cooldown <= 0 {
		cfg.Alerts.Cooldown = 15 * time.Minute
	}
	if cfg.Alerts.CriticalThreshold <= 0 {
		cfg.Alerts.CriticalThreshold = 0.85
	}
	if cfg.Alerts.EmergencyConfidence <= 0 {
		cfg.Alerts.EmergencyConfidence = 0.9
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Emergency.EntryThreshold <= 0 {
		cfg.Emergency.EntryThreshold = 0.9
	}
	if cfg.Emergency.CountdownSeconds <= 0 {
		cfg.Emergency.CountdownSeconds = 10
	}
	if cfg.Emergency.TickInterval <= 0 {
		cfg.Emergency.TickInterval = 1 * time.Second
	}
	if cfg.Emergency.CountryCode == "" {
		cfg.Emergency.CountryCode = "DEFAULT"
	}
	if len(cfg.Emergency.FallbackNumbers) == 0 {
		cfg.Emergency.FallbackNumbers = []string{"112", "911", "999", "000"}
	}
	if cfg.Emergency.RequestTimeout <= 0 {
		cfg.Emergency.RequestTimeout = 10 * time.Second
	}
	if cfg.Outbox.MaxAttempts <= 0 {
		cfg.Outbox.MaxAttempts = 5
	}
	if cfg.Outbox.BaseBackoff <= 0 {
		cfg.Outbox.BaseBackoff = 2 * time.Second
	}
	if cfg.Outbox.MaxBackoff <= 0 {
		cfg.Outbox.MaxBackoff = 5 * time.Minute
	}
	if cfg.Outbox.DrainInterval <= 0 {
		cfg.Outbox.DrainInterval = 3 * time.Second
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = 64
	}
}

func Validate(cfg *Config) error {
	if cfg.Signal.BandLowHz >= cfg.Signal.BandHighHz {
		return errors.New("signal.band_low_hz must be < signal.band_high_hz")
	}
	if cfg.Signal.NotchHz <= 0 {
		return errors.New("signal.notch_hz must be > 0")
	}
	if cfg.Fusion.CloudWeight+cfg.Fusion.EdgeWeight <= 0 {
		return errors.New("fusion weights must sum to > 0")
	}
	if cfg.Alerts.CriticalThreshold <= 0 || cfg.Alerts.CriticalThreshold > 1 {
		return errors.New("alerts.critical_threshold must be in (0,1]")
	}
	if cfg.Emergency.EntryThreshold <= 0 || cfg.Emergency.EntryThreshold > 1 {
		return errors.New("emergency.entry_threshold must be in (0,1]")
	}
	if cfg.Device.MQTT.Enabled {
		if cfg.Device.MQTT.Broker == "" || cfg.Device.MQTT.Topic == "" {
			return errors.New("device.mqtt requires broker and topic")
		}
	}
	if cfg.Cloud.MQTT.Enabled {
		if cfg.Cloud.MQTT.Broker == "" || cfg.Cloud.MQTT.Topic == "" {
			return errors.New("cloud.mqtt requires broker and topic")
		}
	}
	if cfg.Cloud.REST.Enabled && cfg.Cloud.REST.URL == "" {
		return errors.New("cloud.rest.url required when cloud.rest.enabled is true")
	}
	if cfg.Outbox.Enabled {
		if cfg.Outbox.Path == "" {
			return errors.New("outbox.path required when outbox.enabled is true")
		}
		if len(cfg.Outbox.Brokers) == 0 || cfg.Outbox.Topic == "" {
			return errors.New("outbox requires brokers and topic")
		}
	}
	if cfg.Storage.Enabled && cfg.Storage.DSN == "" {
		return errors.New("storage.dsn required when storage.enabled is true")
	}
	for _, c := range cfg.Emergency.Contacts {
		if c.Phone == "" {
			return fmt.Errorf("emergency contact %q has no phone number", c.Name)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
