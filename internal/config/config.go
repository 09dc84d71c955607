// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// FirmwareVersion is reported in VIB:BOOT and the status API.
const FirmwareVersion = "1.0.0-alpha"

// Sensor kinds.
const (
	SensorMPU9250 = "mpu9250"
	SensorMock    = "mock"
)

// Config holds all application configuration values.
type Config struct {
	// Sampling
	SampleRateHz        int `yaml:"sample_rate_hz"`
	SensorReadTimeoutMS int `yaml:"sensor_read_timeout_ms"`
	SensorFaultLimit    int `yaml:"sensor_fault_limit"`

	// Classification
	Thresholds         vibration.ThresholdSet `yaml:"thresholds"`
	DebounceMS         int                    `yaml:"debounce_ms"`
	RecoveryDebounceMS int                    `yaml:"recovery_debounce_ms"`

	// Sensor hardware
	Sensor        string `yaml:"sensor"` // "mpu9250" or "mock"
	IMUSPIDevice  string `yaml:"imu_spi_device"`
	IMUCSPin      string `yaml:"imu_cs_pin"`
	IMUAccelRange byte   `yaml:"imu_accel_range"` // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUGyroRange  byte   `yaml:"imu_gyro_range"`  // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s

	// Calibration
	Offsets vibration.Offsets `yaml:"offsets"`

	// Mock sensor profile
	MockNoiseG     float64 `yaml:"mock_noise_g"`
	MockBurstEvery int     `yaml:"mock_burst_every"`
	MockBurstLen   int     `yaml:"mock_burst_len"`
	MockBurstG     float64 `yaml:"mock_burst_g"`

	// Outputs
	EStopPin          string `yaml:"estop_pin"`
	EStopActiveLow    bool   `yaml:"estop_active_low"`
	StatusLEDPin      string `yaml:"status_led_pin"`
	StatusLEDAlertPin string `yaml:"status_led_alert_pin"`

	// Inputs
	TriggerInputPin string `yaml:"trigger_input_pin"` // controller sync pulse, marks the event log

	// Watchdog and scheduling
	WatchdogDevice    string `yaml:"watchdog_device"` // empty: in-process watchdog
	WatchdogTimeoutMS int    `yaml:"watchdog_timeout_ms"`
	SafetyCPU         int    `yaml:"safety_cpu"` // -1 disables pinning

	// Telemetry
	TelemetryBuffer int `yaml:"telemetry_buffer"`
	DrainIntervalMS int `yaml:"drain_interval_ms"`
	RMSWindow       int `yaml:"rms_window"`

	// Web Server
	WebServerPort     int    `yaml:"web_server_port"`
	WebSocketUpdateHz int    `yaml:"websocket_update_hz"`
	WebRoot           string `yaml:"web_root"`

	// Serial export (device side) and host monitor
	SerialExportPort string `yaml:"serial_export_port"`
	SerialBaudRate   int    `yaml:"serial_baud_rate"`
	StatusIntervalS  int    `yaml:"status_interval_s"`
	HostSerialPort   string `yaml:"host_serial_port"`
	HostLogDir       string `yaml:"host_log_dir"`

	// MQTT
	MQTTBroker        string `yaml:"mqtt_broker"`
	MQTTClientID      string `yaml:"mqtt_client_id"`
	TopicData         string `yaml:"topic_data"`
	TopicEvent        string `yaml:"topic_event"`
	TopicStatus       string `yaml:"topic_status"`
	TopicEStopTrigger string `yaml:"topic_estop_trigger"`
	TopicHostStatus   string `yaml:"topic_host_status"`
	TopicResetPeak    string `yaml:"topic_reset_peak"`

	// Display
	DisplayEnabled        bool   `yaml:"display_enabled"`
	DisplayBus            string `yaml:"display_bus"`
	DisplayUpdateInterval int    `yaml:"display_update_interval"` // milliseconds

	// Event log
	EventDBPath string `yaml:"event_db_path"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		SampleRateHz:          100,
		SensorReadTimeoutMS:   5,
		SensorFaultLimit:      3,
		Thresholds:            vibration.DefaultThresholds(),
		DebounceMS:            50,
		RecoveryDebounceMS:    50,
		Sensor:                SensorMPU9250,
		IMUSPIDevice:          "/dev/spidev0.0",
		IMUCSPin:              "GPIO8",
		IMUAccelRange:         2,
		IMUGyroRange:          1,
		MockNoiseG:            0.05,
		MockBurstEvery:        1000,
		MockBurstLen:          8,
		MockBurstG:            6.5,
		EStopPin:              "GPIO15",
		EStopActiveLow:        true,
		StatusLEDPin:          "GPIO16",
		WatchdogTimeoutMS:     1000,
		SafetyCPU:             -1,
		TelemetryBuffer:       10,
		DrainIntervalMS:       20,
		RMSWindow:             100,
		WebServerPort:         8080,
		WebSocketUpdateHz:     10,
		WebRoot:               "web",
		SerialBaudRate:        115200,
		StatusIntervalS:       10,
		HostLogDir:            ".",
		MQTTClientID:          "vibmon",
		TopicData:             "vibration/data",
		TopicEvent:            "vibration/event",
		TopicStatus:           "vibration/status",
		TopicEStopTrigger:     "vibration/estop-trigger",
		TopicHostStatus:       "vibration/host",
		TopicResetPeak:        "vibration/reset-peak",
		DisplayBus:            "",
		DisplayUpdateInterval: 250,
		EventDBPath:           "vibration_events.db",
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file on top of Default(). Files ending in
// .yaml or .yml are YAML; anything else is KEY=VALUE lines.
func Load(configPath string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		cfg, err = loadYAML(configPath)
	default:
		cfg, err = loadKeyValue(configPath)
	}
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func loadKeyValue(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		if err := cfg.setValue(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func parseRange(key, value string) (byte, error) {
	r, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if r > 3 {
		return 0, fmt.Errorf("invalid %s %d: must be 0-3", key, r)
	}
	return byte(r), nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Sampling
	case "SAMPLE_RATE_HZ":
		c.SampleRateHz, err = parseInt(key, value)
	case "SENSOR_READ_TIMEOUT_MS":
		c.SensorReadTimeoutMS, err = parseInt(key, value)
	case "SENSOR_FAULT_LIMIT":
		c.SensorFaultLimit, err = parseInt(key, value)

	// Classification
	case "THRESHOLD_WARNING":
		c.Thresholds.Warning, err = parseFloat(key, value)
	case "THRESHOLD_CRITICAL":
		c.Thresholds.Critical, err = parseFloat(key, value)
	case "THRESHOLD_EMERGENCY":
		c.Thresholds.Emergency, err = parseFloat(key, value)
	case "HYSTERESIS":
		c.Thresholds.Hysteresis, err = parseFloat(key, value)
	case "DEBOUNCE_MS":
		c.DebounceMS, err = parseInt(key, value)
	case "RECOVERY_DEBOUNCE_MS":
		c.RecoveryDebounceMS, err = parseInt(key, value)

	// Sensor hardware
	case "SENSOR":
		c.Sensor = strings.ToLower(value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(key, value)
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(key, value)

	// Calibration
	case "ACCEL_OFFSET_X":
		c.Offsets.Accel.X, err = parseFloat(key, value)
	case "ACCEL_OFFSET_Y":
		c.Offsets.Accel.Y, err = parseFloat(key, value)
	case "ACCEL_OFFSET_Z":
		c.Offsets.Accel.Z, err = parseFloat(key, value)
	case "GYRO_OFFSET_X":
		c.Offsets.Gyro.X, err = parseFloat(key, value)
	case "GYRO_OFFSET_Y":
		c.Offsets.Gyro.Y, err = parseFloat(key, value)
	case "GYRO_OFFSET_Z":
		c.Offsets.Gyro.Z, err = parseFloat(key, value)

	// Mock sensor
	case "MOCK_NOISE_G":
		c.MockNoiseG, err = parseFloat(key, value)
	case "MOCK_BURST_EVERY":
		c.MockBurstEvery, err = parseInt(key, value)
	case "MOCK_BURST_LEN":
		c.MockBurstLen, err = parseInt(key, value)
	case "MOCK_BURST_G":
		c.MockBurstG, err = parseFloat(key, value)

	// Outputs
	case "ESTOP_PIN":
		c.EStopPin = value
	case "ESTOP_ACTIVE_LOW":
		c.EStopActiveLow, err = parseBool(key, value)
	case "STATUS_LED_PIN":
		c.StatusLEDPin = value
	case "STATUS_LED_ALERT_PIN":
		c.StatusLEDAlertPin = value

	// Inputs
	case "TRIGGER_INPUT_PIN":
		c.TriggerInputPin = value

	// Watchdog and scheduling
	case "WATCHDOG_DEVICE":
		c.WatchdogDevice = value
	case "WATCHDOG_TIMEOUT_MS":
		c.WatchdogTimeoutMS, err = parseInt(key, value)
	case "SAFETY_CPU":
		c.SafetyCPU, err = parseInt(key, value)

	// Telemetry
	case "TELEMETRY_BUFFER":
		c.TelemetryBuffer, err = parseInt(key, value)
	case "DRAIN_INTERVAL_MS":
		c.DrainIntervalMS, err = parseInt(key, value)
	case "RMS_WINDOW":
		c.RMSWindow, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "WEBSOCKET_UPDATE_HZ":
		c.WebSocketUpdateHz, err = parseInt(key, value)
	case "WEB_ROOT":
		c.WebRoot = value

	// Serial
	case "SERIAL_EXPORT_PORT":
		c.SerialExportPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value)
	case "STATUS_INTERVAL_S":
		c.StatusIntervalS, err = parseInt(key, value)
	case "HOST_SERIAL_PORT":
		c.HostSerialPort = value
	case "HOST_LOG_DIR":
		c.HostLogDir = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_DATA":
		c.TopicData = value
	case "TOPIC_EVENT":
		c.TopicEvent = value
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_ESTOP_TRIGGER":
		c.TopicEStopTrigger = value
	case "TOPIC_HOST_STATUS":
		c.TopicHostStatus = value
	case "TOPIC_RESET_PEAK":
		c.TopicResetPeak = value

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = parseBool(key, value)
	case "DISPLAY_BUS":
		c.DisplayBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	// Event log
	case "EVENT_DB_PATH":
		c.EventDBPath = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", vibration.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// validate checks ranges and required fields. Every failure wraps
// vibration.ErrConfigInvalid; the monitor must not start with any of them.
func (c *Config) validate() error {
	if c.SampleRateHz < 10 || c.SampleRateHz > 200 {
		return invalid("SAMPLE_RATE_HZ %d must be 10-200", c.SampleRateHz)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.DebounceMS < 0 || c.RecoveryDebounceMS < 0 {
		return invalid("DEBOUNCE_MS and RECOVERY_DEBOUNCE_MS must be >= 0")
	}
	if c.SensorFaultLimit < 0 {
		return invalid("SENSOR_FAULT_LIMIT must be >= 0")
	}
	if c.SensorReadTimeoutMS <= 0 {
		return invalid("SENSOR_READ_TIMEOUT_MS must be > 0")
	}
	// a hung read must end as a fault inside its own sample slot
	if readTimeout := time.Duration(c.SensorReadTimeoutMS) * time.Millisecond; readTimeout > c.SamplePeriod() {
		return invalid("SENSOR_READ_TIMEOUT_MS %d must not exceed the sample period (%v)", c.SensorReadTimeoutMS, c.SamplePeriod())
	}
	if c.IMUAccelRange > 3 || c.IMUGyroRange > 3 {
		return invalid("IMU ranges must be 0-3")
	}
	switch c.Sensor {
	case SensorMPU9250:
		if c.IMUSPIDevice == "" || c.IMUCSPin == "" {
			return invalid("IMU_SPI_DEVICE and IMU_CS_PIN are required for SENSOR=mpu9250")
		}
		if c.EStopPin == "" {
			return invalid("ESTOP_PIN is required for SENSOR=mpu9250")
		}
	case SensorMock:
	default:
		return invalid("SENSOR %q must be mpu9250 or mock", c.Sensor)
	}
	if c.WatchdogTimeoutMS <= 0 {
		return invalid("WATCHDOG_TIMEOUT_MS must be > 0")
	}
	if time.Duration(c.WatchdogTimeoutMS)*time.Millisecond <= c.SamplePeriod() {
		return invalid("WATCHDOG_TIMEOUT_MS %d must exceed the sample period", c.WatchdogTimeoutMS)
	}
	if c.SensorReadTimeoutMS*2 > c.WatchdogTimeoutMS {
		return invalid("SENSOR_READ_TIMEOUT_MS %d must be at most half of WATCHDOG_TIMEOUT_MS %d",
			c.SensorReadTimeoutMS, c.WatchdogTimeoutMS)
	}
	if c.TelemetryBuffer < 1 {
		return invalid("TELEMETRY_BUFFER must be >= 1")
	}
	if c.WebSocketUpdateHz < 1 || c.WebSocketUpdateHz > 50 {
		return invalid("WEBSOCKET_UPDATE_HZ %d must be 1-50", c.WebSocketUpdateHz)
	}
	if c.SerialExportPort != "" && c.SerialBaudRate <= 0 {
		return invalid("SERIAL_BAUD_RATE is required with SERIAL_EXPORT_PORT")
	}
	return nil
}

// SamplePeriod is the safety loop period.
func (c *Config) SamplePeriod() time.Duration {
	if c.SampleRateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.SampleRateHz)
}

// Debounce returns the escalation and recovery windows.
func (c *Config) Debounce() (escalate, recover time.Duration) {
	return time.Duration(c.DebounceMS) * time.Millisecond, time.Duration(c.RecoveryDebounceMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
