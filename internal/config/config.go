package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	commoncfg "plate-lookup/internal/common/config"
)

// Config plate-lookup（HTTP API + 语音）配置
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	DBEnabled    bool                     `yaml:"db_enabled"`
	Database     commoncfg.DatabaseConfig `yaml:"database"`
	RedisEnabled bool                     `yaml:"redis_enabled"`
	Redis        commoncfg.RedisConfig    `yaml:"redis"`
	Log          struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	DefaultCommunity string        `yaml:"default_community"` // collection 后缀，如 "_b"
	OperatorDefault  string        `yaml:"operator_default"`  // 请求未带 X-Operator 时的操作人
	PendingCacheTTL  time.Duration `yaml:"pending_cache_ttl"`
	EventStream      string        `yaml:"event_stream"`
	EventStreamMax   int64         `yaml:"event_stream_max"`

	Voice  VoiceConfig  `yaml:"voice"`
	TTS    TTSConfig    `yaml:"tts"`
	Images ImageConfig  `yaml:"images"`
	MQTT   MQTTSettings `yaml:"mqtt"`
}

// VoiceConfig 语音会话
type VoiceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Mode           string        `yaml:"mode"` // 语音查询使用的模式，默认 plate
	DebounceDelay  time.Duration `yaml:"debounce_delay"`
	FastPathLength int           `yaml:"fast_path_length"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	InputDevice    string        `yaml:"input_device"`
}

// TTSConfig 语音合成云函数
type TTSConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ImageConfig 车牌照片存储（GCS）
type ImageConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

// MQTTSettings 语音设备走 MQTT
type MQTTSettings struct {
	commoncfg.MQTTConfig `yaml:",inline"`
	TopicPrefix          string `yaml:"topic_prefix"` // 如 "plate-lookup/voice/gate1"
}

func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// DB 不可用时回退到内存存储
	cfg.DBEnabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "plates",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.DefaultCommunity = getEnv("DEFAULT_COMMUNITY", "")
	cfg.OperatorDefault = getEnv("OPERATOR_DEFAULT", "anonymous")
	cfg.PendingCacheTTL = time.Duration(parseInt(getEnv("PENDING_CACHE_TTL_SEC", "300"), 300)) * time.Second
	cfg.EventStream = getEnv("EVENT_STREAM", "plate:events")
	cfg.EventStreamMax = int64(parseInt(getEnv("EVENT_STREAM_MAXLEN", "10000"), 10000))

	cfg.Voice.Enabled = getEnv("VOICE_ENABLED", "false") == "true"
	cfg.Voice.Mode = getEnv("VOICE_MODE", "plate")
	cfg.Voice.DebounceDelay = time.Duration(parseInt(getEnv("VOICE_DEBOUNCE_MS", "1200"), 1200)) * time.Millisecond
	cfg.Voice.FastPathLength = parseInt(getEnv("VOICE_FAST_PATH_LEN", "6"), 6)
	cfg.Voice.SettleDelay = time.Duration(parseInt(getEnv("VOICE_SETTLE_MS", "500"), 500)) * time.Millisecond
	cfg.Voice.InputDevice = getEnv("VOICE_INPUT_DEVICE", "")

	cfg.TTS.Enabled = getEnv("TTS_ENABLED", "false") == "true"
	cfg.TTS.Endpoint = getEnv("TTS_ENDPOINT", "")
	cfg.TTS.Timeout = time.Duration(parseInt(getEnv("TTS_TIMEOUT_SEC", "10"), 10)) * time.Second

	cfg.Images.Enabled = getEnv("IMAGES_ENABLED", "false") == "true"
	cfg.Images.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", "")

	cfg.MQTT.MQTTConfig = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "plate-lookup-voice",
		QoS:      1,
	}
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "plate-lookup/voice")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFile YAML 覆盖；文件里没写的字段保持环境变量的值
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
