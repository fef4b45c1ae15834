package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	LogLevel       zapcore.Level
	SoftwareConfig string         `mapstructure:"software_config"`
	HardwareConfig string         `mapstructure:"hardware_config"`
	Timezone       string         `mapstructure:"timezone"`
	Timeouts       TimeoutsConfig `mapstructure:"timeouts"`
	MQTT           MQTTConfig     `mapstructure:"mqtt"`
	Daemon         DaemonConfig   `mapstructure:"daemon"`
}

type TimeoutsConfig struct {
	DeviceMillis uint32 `mapstructure:"device_millis"`
	HttpMillis   uint32 `mapstructure:"http_millis"`
	SqlMillis    uint32 `mapstructure:"sql_millis"`
	MqttMillis   uint32 `mapstructure:"mqtt_millis"`
}

func (t TimeoutsConfig) Device() time.Duration {
	return time.Duration(t.DeviceMillis) * time.Millisecond
}

func (t TimeoutsConfig) HTTP() time.Duration {
	return time.Duration(t.HttpMillis) * time.Millisecond
}

func (t TimeoutsConfig) SQL() time.Duration {
	return time.Duration(t.SqlMillis) * time.Millisecond
}

func (t TimeoutsConfig) MQTT() time.Duration {
	return time.Duration(t.MqttMillis) * time.Millisecond
}

type MQTTConfig struct {
	BaseTopic      string `mapstructure:"base_topic"`
	ClientIdPrefix string `mapstructure:"client_id_prefix"`
}

type DaemonConfig struct {
	Schedule string `mapstructure:"schedule"`
	Port     uint   `mapstructure:"port"`
	HttpLog  bool   `mapstructure:"http_log"`
}

// NewViper returns a viper instance with defaults set and MARSHAL_* environment
// overrides enabled ("timeouts.http_millis" reads MARSHAL_TIMEOUTS_HTTP_MILLIS).
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("marshal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("software_config", "/home/pi/marshal/cS.json")
	v.SetDefault("hardware_config", "/home/pi/marshal/cH.json")
	v.SetDefault("timezone", "Asia/Kolkata")
	v.SetDefault("timeouts.device_millis", 5000)
	v.SetDefault("timeouts.http_millis", 10000)
	v.SetDefault("timeouts.sql_millis", 10000)
	v.SetDefault("timeouts.mqtt_millis", 5000)
	v.SetDefault("mqtt.base_topic", "marshal")
	v.SetDefault("mqtt.client_id_prefix", "marshal")
	v.SetDefault("daemon.schedule", "0 0/5 * * * *")
	v.SetDefault("daemon.port", 8080)
	v.SetDefault("daemon.http_log", false)
}

// Load unmarshals the agent configuration held by v and checks its bounds.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = ParseLogLevel(v.GetString("log_level"))

	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, fmt.Errorf("%w: mqtt.base_topic: %v", ErrInvalidConfig, err)
	}
	cfg.MQTT.BaseTopic = baseTopic

	if cfg.SoftwareConfig == "" || cfg.HardwareConfig == "" {
		return nil, fmt.Errorf("%w: software_config and hardware_config are required", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", ErrInvalidConfig, err)
	}
	if cfg.Timeouts.DeviceMillis < 100 || cfg.Timeouts.HttpMillis < 100 ||
		cfg.Timeouts.SqlMillis < 100 || cfg.Timeouts.MqttMillis < 100 {
		return nil, fmt.Errorf("%w: timeouts.* should be >= 100ms", ErrInvalidConfig)
	}

	return &cfg, nil
}

func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zap.DebugLevel
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
