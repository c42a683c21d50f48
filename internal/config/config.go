package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Encoder   EncoderConfig   `mapstructure:"encoder" yaml:"encoder"`
	Sensors   SensorsConfig   `mapstructure:"sensors" yaml:"sensors"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Cues      CuesConfig      `mapstructure:"cues" yaml:"cues"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Server struct {
		BaseURL      string // "inherited", "profile-specific" or "default"
		LabelTimeout string
	}
	Recording struct {
		WindowSize string
		Exclusive  string
	}
	Encoder struct {
		Strict string
	}
	Sensors struct {
		Source string
	}
	History struct {
		Backend string
		Path    string
	}
}

type ServerConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	PredictPath    string        `mapstructure:"predict_path" yaml:"predict_path"`
	LabelPath      string        `mapstructure:"label_path" yaml:"label_path"`
	PredictTimeout time.Duration `mapstructure:"predict_timeout" yaml:"predict_timeout"`
	LabelTimeout   time.Duration `mapstructure:"label_timeout" yaml:"label_timeout"`
}

type RecordingConfig struct {
	Countdown        time.Duration `mapstructure:"countdown" yaml:"countdown"`
	Tick             time.Duration `mapstructure:"tick" yaml:"tick"`
	FirstSendDelay   time.Duration `mapstructure:"first_send_delay" yaml:"first_send_delay"`
	RepeatInterval   time.Duration `mapstructure:"repeat_interval" yaml:"repeat_interval"`
	WindowSize       int           `mapstructure:"window_size" yaml:"window_size"`
	SampleIntervalUs uint32        `mapstructure:"sample_interval_us" yaml:"sample_interval_us"`
	Exclusive        *bool         `mapstructure:"exclusive" yaml:"exclusive,omitempty"`
}

type EncoderConfig struct {
	ProblemName string   `mapstructure:"problem_name" yaml:"problem_name"`
	ClassLabels []string `mapstructure:"class_labels" yaml:"class_labels"`
	Strict      *bool    `mapstructure:"strict" yaml:"strict,omitempty"`
}

type SensorsConfig struct {
	Source string       `mapstructure:"source" yaml:"source"` // "mock", "mqtt", "serial"
	MQTT   MQTTConfig   `mapstructure:"mqtt" yaml:"mqtt"`
	Serial SerialConfig `mapstructure:"serial" yaml:"serial"`
}

type MQTTConfig struct {
	Broker     string `mapstructure:"broker" yaml:"broker"`
	ClientID   string `mapstructure:"client_id" yaml:"client_id"`
	AccelTopic string `mapstructure:"accel_topic" yaml:"accel_topic"`
	GyroTopic  string `mapstructure:"gyro_topic" yaml:"gyro_topic"`
	RateTopic  string `mapstructure:"rate_topic" yaml:"rate_topic"`
}

type SerialConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate uint   `mapstructure:"baud_rate" yaml:"baud_rate"`
}

type HistoryConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "badger", "sqlite"
	Path    string `mapstructure:"path" yaml:"path"`
}

type CuesConfig struct {
	Enabled      *bool  `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Player       string `mapstructure:"player" yaml:"player"` // "auto" or a player binary
	Countdown    string `mapstructure:"countdown" yaml:"countdown"`
	Notification string `mapstructure:"notification" yaml:"notification"`
	Error        string `mapstructure:"error" yaml:"error"`
}

var defaultConfig = Config{
	Server: ServerConfig{
		BaseURL:        "http://192.168.1.62:5000",
		PredictPath:    "/predict",
		LabelPath:      "/upload_labeled_activity",
		PredictTimeout: 10 * time.Second,
		LabelTimeout:   180 * time.Second,
	},
	Recording: RecordingConfig{
		Countdown:        3 * time.Second,
		Tick:             time.Second,
		FirstSendDelay:   10500 * time.Millisecond,
		RepeatInterval:   10 * time.Second,
		WindowSize:       500,
		SampleIntervalUs: 20000,
		Exclusive:        boolPtr(true),
	},
	Encoder: EncoderConfig{
		ProblemName: "SensorData",
		ClassLabels: []string{"StarJumps", "Squats"},
		Strict:      boolPtr(false),
	},
	Sensors: SensorsConfig{
		Source: "mock",
		MQTT: MQTTConfig{
			Broker:     "tcp://localhost:1883",
			ClientID:   "harcapture",
			AccelTopic: "har/imu/accel",
			GyroTopic:  "har/imu/gyro",
			RateTopic:  "har/imu/rate",
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
		},
	},
	History: HistoryConfig{
		Backend: "badger",
		Path:    "~/.local/share/harcapture/history",
	},
	Cues: CuesConfig{
		Enabled:      boolPtr(true),
		Player:       "auto",
		Countdown:    "~/.local/share/harcapture/sounds/countdown_beep.wav",
		Notification: "~/.local/share/harcapture/sounds/notification_sound.wav",
		Error:        "~/.local/share/harcapture/sounds/error_sound.wav",
	},
}

// Default returns the built-in configuration, used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Inheritance = newInheritance("default")
	expandPaths(cfg)
	return cfg
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	var resolved *Config
	if base, ok := rootConfig.Configs["default"]; ok && configName != "default" {
		resolved = mergeConfigs(base, selected)
	} else {
		resolved = mergeConfigs(nil, selected)
	}

	applyDefaults(resolved)
	expandPaths(resolved)

	if err := Validate(resolved); err != nil {
		return nil, fmt.Errorf("config validation failed for profile '%s': %w", configName, err)
	}

	return resolved, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ValidateConfigurationFormat reads the config file and checks its profile layout
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("HARCAPTURE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if active := v.GetString("active_config"); active != "" {
		rootConfig.ActiveConfig = active
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
	}

	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not match any profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// ProfileNames lists the profiles declared in a config file
func ProfileNames(configFile string) ([]string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	return names, nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// every field set in the profile wins, everything else falls back to base.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	result.Inheritance = newInheritance("default")

	if base != nil {
		result.Server = base.Server
		result.Recording = base.Recording
		result.Encoder = base.Encoder
		result.Sensors = base.Sensors
		result.History = base.History
		result.Cues = base.Cues
		result.Inheritance = newInheritance("inherited")
	}

	if profile == nil {
		return result
	}

	// Server
	if profile.Server.BaseURL != "" {
		result.Server.BaseURL = profile.Server.BaseURL
		result.Inheritance.Server.BaseURL = "profile-specific"
	}
	if profile.Server.PredictPath != "" {
		result.Server.PredictPath = profile.Server.PredictPath
	}
	if profile.Server.LabelPath != "" {
		result.Server.LabelPath = profile.Server.LabelPath
	}
	if profile.Server.PredictTimeout != 0 {
		result.Server.PredictTimeout = profile.Server.PredictTimeout
	}
	if profile.Server.LabelTimeout != 0 {
		result.Server.LabelTimeout = profile.Server.LabelTimeout
		result.Inheritance.Server.LabelTimeout = "profile-specific"
	}

	// Recording
	if profile.Recording.Countdown != 0 {
		result.Recording.Countdown = profile.Recording.Countdown
	}
	if profile.Recording.Tick != 0 {
		result.Recording.Tick = profile.Recording.Tick
	}
	if profile.Recording.FirstSendDelay != 0 {
		result.Recording.FirstSendDelay = profile.Recording.FirstSendDelay
	}
	if profile.Recording.RepeatInterval != 0 {
		result.Recording.RepeatInterval = profile.Recording.RepeatInterval
	}
	if profile.Recording.WindowSize != 0 {
		result.Recording.WindowSize = profile.Recording.WindowSize
		result.Inheritance.Recording.WindowSize = "profile-specific"
	}
	if profile.Recording.SampleIntervalUs != 0 {
		result.Recording.SampleIntervalUs = profile.Recording.SampleIntervalUs
	}
	if profile.Recording.Exclusive != nil {
		result.Recording.Exclusive = profile.Recording.Exclusive
		result.Inheritance.Recording.Exclusive = "profile-specific"
	}

	// Encoder
	if profile.Encoder.ProblemName != "" {
		result.Encoder.ProblemName = profile.Encoder.ProblemName
	}
	if len(profile.Encoder.ClassLabels) > 0 {
		result.Encoder.ClassLabels = profile.Encoder.ClassLabels
	}
	if profile.Encoder.Strict != nil {
		result.Encoder.Strict = profile.Encoder.Strict
		result.Inheritance.Encoder.Strict = "profile-specific"
	}

	// Sensors
	if profile.Sensors.Source != "" {
		result.Sensors.Source = profile.Sensors.Source
		result.Inheritance.Sensors.Source = "profile-specific"
	}
	mqttCfg := &result.Sensors.MQTT
	if profile.Sensors.MQTT.Broker != "" {
		mqttCfg.Broker = profile.Sensors.MQTT.Broker
	}
	if profile.Sensors.MQTT.ClientID != "" {
		mqttCfg.ClientID = profile.Sensors.MQTT.ClientID
	}
	if profile.Sensors.MQTT.AccelTopic != "" {
		mqttCfg.AccelTopic = profile.Sensors.MQTT.AccelTopic
	}
	if profile.Sensors.MQTT.GyroTopic != "" {
		mqttCfg.GyroTopic = profile.Sensors.MQTT.GyroTopic
	}
	if profile.Sensors.MQTT.RateTopic != "" {
		mqttCfg.RateTopic = profile.Sensors.MQTT.RateTopic
	}
	if profile.Sensors.Serial.Port != "" {
		result.Sensors.Serial.Port = profile.Sensors.Serial.Port
	}
	if profile.Sensors.Serial.BaudRate != 0 {
		result.Sensors.Serial.BaudRate = profile.Sensors.Serial.BaudRate
	}

	// History
	if profile.History.Backend != "" {
		result.History.Backend = profile.History.Backend
		result.Inheritance.History.Backend = "profile-specific"
	}
	if profile.History.Path != "" {
		result.History.Path = profile.History.Path
		result.Inheritance.History.Path = "profile-specific"
	}

	// Cues
	if profile.Cues.Enabled != nil {
		result.Cues.Enabled = profile.Cues.Enabled
	}
	if profile.Cues.Player != "" {
		result.Cues.Player = profile.Cues.Player
	}
	if profile.Cues.Countdown != "" {
		result.Cues.Countdown = profile.Cues.Countdown
	}
	if profile.Cues.Notification != "" {
		result.Cues.Notification = profile.Cues.Notification
	}
	if profile.Cues.Error != "" {
		result.Cues.Error = profile.Cues.Error
	}

	return result
}

// applyDefaults fills every unset field from the built-in defaults
func applyDefaults(cfg *Config) {
	d := defaultConfig
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = d.Server.BaseURL
	}
	if cfg.Server.PredictPath == "" {
		cfg.Server.PredictPath = d.Server.PredictPath
	}
	if cfg.Server.LabelPath == "" {
		cfg.Server.LabelPath = d.Server.LabelPath
	}
	if cfg.Server.PredictTimeout == 0 {
		cfg.Server.PredictTimeout = d.Server.PredictTimeout
	}
	if cfg.Server.LabelTimeout == 0 {
		cfg.Server.LabelTimeout = d.Server.LabelTimeout
	}

	if cfg.Recording.Countdown == 0 {
		cfg.Recording.Countdown = d.Recording.Countdown
	}
	if cfg.Recording.Tick == 0 {
		cfg.Recording.Tick = d.Recording.Tick
	}
	if cfg.Recording.FirstSendDelay == 0 {
		cfg.Recording.FirstSendDelay = d.Recording.FirstSendDelay
	}
	if cfg.Recording.RepeatInterval == 0 {
		cfg.Recording.RepeatInterval = d.Recording.RepeatInterval
	}
	if cfg.Recording.WindowSize == 0 {
		cfg.Recording.WindowSize = d.Recording.WindowSize
	}
	if cfg.Recording.SampleIntervalUs == 0 {
		cfg.Recording.SampleIntervalUs = d.Recording.SampleIntervalUs
	}
	if cfg.Recording.Exclusive == nil {
		cfg.Recording.Exclusive = boolPtr(*d.Recording.Exclusive)
	}

	if cfg.Encoder.ProblemName == "" {
		cfg.Encoder.ProblemName = d.Encoder.ProblemName
	}
	if len(cfg.Encoder.ClassLabels) == 0 {
		cfg.Encoder.ClassLabels = append([]string(nil), d.Encoder.ClassLabels...)
	}
	if cfg.Encoder.Strict == nil {
		cfg.Encoder.Strict = boolPtr(*d.Encoder.Strict)
	}

	if cfg.Sensors.Source == "" {
		cfg.Sensors.Source = d.Sensors.Source
	}
	if cfg.Sensors.MQTT.Broker == "" {
		cfg.Sensors.MQTT.Broker = d.Sensors.MQTT.Broker
	}
	if cfg.Sensors.MQTT.ClientID == "" {
		cfg.Sensors.MQTT.ClientID = d.Sensors.MQTT.ClientID
	}
	if cfg.Sensors.MQTT.AccelTopic == "" {
		cfg.Sensors.MQTT.AccelTopic = d.Sensors.MQTT.AccelTopic
	}
	if cfg.Sensors.MQTT.GyroTopic == "" {
		cfg.Sensors.MQTT.GyroTopic = d.Sensors.MQTT.GyroTopic
	}
	if cfg.Sensors.MQTT.RateTopic == "" {
		cfg.Sensors.MQTT.RateTopic = d.Sensors.MQTT.RateTopic
	}
	if cfg.Sensors.Serial.Port == "" {
		cfg.Sensors.Serial.Port = d.Sensors.Serial.Port
	}
	if cfg.Sensors.Serial.BaudRate == 0 {
		cfg.Sensors.Serial.BaudRate = d.Sensors.Serial.BaudRate
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = d.History.Backend
	}
	if cfg.History.Path == "" {
		cfg.History.Path = d.History.Path
	}

	if cfg.Cues.Enabled == nil {
		cfg.Cues.Enabled = boolPtr(*d.Cues.Enabled)
	}
	if cfg.Cues.Player == "" {
		cfg.Cues.Player = d.Cues.Player
	}
	if cfg.Cues.Countdown == "" {
		cfg.Cues.Countdown = d.Cues.Countdown
	}
	if cfg.Cues.Notification == "" {
		cfg.Cues.Notification = d.Cues.Notification
	}
	if cfg.Cues.Error == "" {
		cfg.Cues.Error = d.Cues.Error
	}
}

func expandPaths(cfg *Config) {
	cfg.History.Path = expandPath(cfg.History.Path)
	cfg.Cues.Countdown = expandPath(cfg.Cues.Countdown)
	cfg.Cues.Notification = expandPath(cfg.Cues.Notification)
	cfg.Cues.Error = expandPath(cfg.Cues.Error)
}

// Validate checks a resolved configuration
func Validate(cfg *Config) error {
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	if err := validateRecording(cfg.Recording); err != nil {
		return err
	}
	if err := validateEncoder(cfg.Encoder); err != nil {
		return err
	}
	if err := validateSensors(cfg.Sensors); err != nil {
		return err
	}
	return validateHistory(cfg.History)
}

func validateServer(s ServerConfig) error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.base_url must be an http(s) URL, got '%s'", s.BaseURL)
	}
	if !strings.HasPrefix(s.PredictPath, "/") {
		return fmt.Errorf("server.predict_path must start with '/', got '%s'", s.PredictPath)
	}
	if !strings.HasPrefix(s.LabelPath, "/") {
		return fmt.Errorf("server.label_path must start with '/', got '%s'", s.LabelPath)
	}
	if s.PredictTimeout < 0 || s.LabelTimeout < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}
	return nil
}

func validateRecording(r RecordingConfig) error {
	if r.Tick <= 0 {
		return fmt.Errorf("recording.tick must be positive, got %s", r.Tick)
	}
	if r.Countdown < r.Tick {
		return fmt.Errorf("recording.countdown (%s) must be at least one tick (%s)", r.Countdown, r.Tick)
	}
	if r.FirstSendDelay <= 0 {
		return fmt.Errorf("recording.first_send_delay must be positive, got %s", r.FirstSendDelay)
	}
	if r.RepeatInterval <= 0 {
		return fmt.Errorf("recording.repeat_interval must be positive, got %s", r.RepeatInterval)
	}
	if r.WindowSize <= 0 {
		return fmt.Errorf("recording.window_size must be positive, got %d", r.WindowSize)
	}
	return nil
}

func validateEncoder(e EncoderConfig) error {
	if e.ProblemName == "" || strings.ContainsAny(e.ProblemName, " \t\r\n") {
		return fmt.Errorf("encoder.problem_name must be a single word, got '%s'", e.ProblemName)
	}
	for i, label := range e.ClassLabels {
		if label == "" || strings.ContainsAny(label, " \t\r\n:") {
			return fmt.Errorf("encoder.class_labels[%d]: invalid class label '%s'", i, label)
		}
	}
	return nil
}

func validateSensors(s SensorsConfig) error {
	switch strings.ToLower(s.Source) {
	case "mock":
	case "mqtt":
		if s.MQTT.Broker == "" {
			return fmt.Errorf("sensors.mqtt.broker is required for the mqtt source")
		}
		if s.MQTT.AccelTopic == "" || s.MQTT.GyroTopic == "" {
			return fmt.Errorf("sensors.mqtt accel_topic and gyro_topic are required")
		}
	case "serial":
		if s.Serial.Port == "" {
			return fmt.Errorf("sensors.serial.port is required for the serial source")
		}
	default:
		return fmt.Errorf("invalid sensors.source '%s', must be 'mock', 'mqtt' or 'serial'", s.Source)
	}
	return nil
}

func validateHistory(h HistoryConfig) error {
	switch h.Backend {
	case "badger", "sqlite":
	default:
		return fmt.Errorf("invalid history.backend '%s', must be 'badger' or 'sqlite'", h.Backend)
	}
	if h.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	return nil
}

// IsExclusive reports whether only one recording mode may run at a time
func (c *Config) IsExclusive() bool {
	return c.Recording.Exclusive == nil || *c.Recording.Exclusive
}

// IsStrict reports whether the encoder rejects mismatched buffer lengths
func (c *Config) IsStrict() bool {
	return c.Encoder.Strict != nil && *c.Encoder.Strict
}

// CuesEnabled reports whether audio cues should be played
func (c *Config) CuesEnabled() bool {
	return c.Cues.Enabled == nil || *c.Cues.Enabled
}

func newInheritance(state string) *InheritanceInfo {
	info := &InheritanceInfo{}
	info.Server.BaseURL = state
	info.Server.LabelTimeout = state
	info.Recording.WindowSize = state
	info.Recording.Exclusive = state
	info.Encoder.Strict = state
	info.Sensors.Source = state
	info.History.Backend = state
	info.History.Path = state
	return info
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func boolPtr(b bool) *bool {
	return &b
}
