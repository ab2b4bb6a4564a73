package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-ini/ini"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	Redis          RedisConfig
	Realtime       RealtimeConfig
}

// RedisConfig configures the optional presence mirror. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `ini:"addr"`
	Password string `ini:"password"`
	DB       int    `ini:"db"`
}

type RealtimeConfig struct {
	HandshakeTimeout   time.Duration `ini:"handshake_timeout"`
	TypingTimeout      time.Duration `ini:"typing_timeout"`
	MembershipCacheTTL time.Duration `ini:"membership_cache_ttl"`
	SendQueueSize      int           `ini:"send_queue_size"`
	RateLimitBurst     int           `ini:"rate_limit_burst"`
	RateLimitInterval  time.Duration `ini:"rate_limit_interval"`
	EventTimeout       time.Duration `ini:"event_timeout"`
}

func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		HandshakeTimeout:   10 * time.Second,
		TypingTimeout:      5 * time.Second,
		MembershipCacheTTL: 30 * time.Second,
		SendQueueSize:      256,
		RateLimitBurst:     20,
		RateLimitInterval:  time.Second,
		EventTimeout:       10 * time.Second,
	}
}

func (rc *RealtimeConfig) sanitize() {
	def := DefaultRealtimeConfig()
	if rc.HandshakeTimeout <= 0 {
		rc.HandshakeTimeout = def.HandshakeTimeout
	}
	if rc.TypingTimeout <= 0 {
		rc.TypingTimeout = def.TypingTimeout
	}
	if rc.MembershipCacheTTL <= 0 {
		rc.MembershipCacheTTL = def.MembershipCacheTTL
	}
	if rc.SendQueueSize <= 0 {
		rc.SendQueueSize = def.SendQueueSize
	}
	if rc.RateLimitBurst <= 0 {
		rc.RateLimitBurst = def.RateLimitBurst
	}
	if rc.RateLimitInterval <= 0 {
		rc.RateLimitInterval = def.RateLimitInterval
	}
	if rc.EventTimeout <= 0 {
		rc.EventTimeout = def.EventTimeout
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Realtime:       DefaultRealtimeConfig(),
	}, nil
}

type serverSection struct {
	Addr           string   `ini:"addr"`
	DSN            string   `ini:"dsn"`
	SigningKey     string   `ini:"signing_key"`
	AllowedOrigins []string `ini:"allowed_origins" delim:","`
}

// LoadFile reads an INI file with [server], [redis] and [realtime]
// sections. Missing realtime values fall back to the defaults.
func LoadFile(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	var srv serverSection
	if err := f.Section("server").MapTo(&srv); err != nil {
		return nil, fmt.Errorf("map server section: %w", err)
	}

	cfg, err := NewConfig(srv.Addr, srv.DSN, srv.SigningKey, srv.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	if err := f.Section("redis").MapTo(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("map redis section: %w", err)
	}

	var rt RealtimeConfig
	if err := f.Section("realtime").MapTo(&rt); err != nil {
		return nil, fmt.Errorf("map realtime section: %w", err)
	}
	rt.sanitize()
	cfg.Realtime = rt

	return cfg, nil
}
