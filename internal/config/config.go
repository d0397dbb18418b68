package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	AWS           AWSConfig           `yaml:"aws"`
	JWT           JWTConfig           `yaml:"jwt"`
	Invitations   InvitationsConfig   `yaml:"invitations"`
	PasswordReset PasswordResetConfig `yaml:"password_reset"`
	Push          PushConfig          `yaml:"push"`
	Mail          MailConfig          `yaml:"mail"`
	Housekeeping  HousekeepingConfig  `yaml:"housekeeping"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// TrustedProxies lists the addresses or CIDRs whose forwarding headers
	// are believed. Empty means the socket address is always used.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// RedisConfig holds the profile cache / token revocation store configuration
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	ProfileTTL time.Duration `yaml:"profile_ttl"`
}

// AWSConfig holds S3 configuration for avatar storage
type AWSConfig struct {
	Region         string        `yaml:"region"`
	S3Bucket       string        `yaml:"s3_bucket"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	Endpoint       string        `yaml:"endpoint"`
	PublicBaseURL  string        `yaml:"public_base_url"`
	PresignTTL     time.Duration `yaml:"presign_ttl"`
	AvatarMaxBytes int64         `yaml:"avatar_max_bytes"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// InvitationsConfig controls circle invitation codes
type InvitationsConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	CodeLength int           `yaml:"code_length"`
}

// PasswordResetConfig controls emailed reset codes
type PasswordResetConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// PushConfig holds Expo and APNs settings
type PushConfig struct {
	ExpoURL         string `yaml:"expo_url"`
	ExpoAccessToken string `yaml:"expo_access_token"`
	APNsKeyFile     string `yaml:"apns_key_file"`
	APNsKeyID       string `yaml:"apns_key_id"`
	APNsTeamID      string `yaml:"apns_team_id"`
	APNsTopic       string `yaml:"apns_topic"`
	APNsProduction  bool   `yaml:"apns_production"`
}

// MailConfig holds SMTP settings. An empty host logs outgoing mail instead.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// HousekeepingConfig controls the cleanup worker
type HousekeepingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.ProfileTTL == 0 {
		c.Redis.ProfileTTL = 10 * time.Minute
	}
	if c.AWS.PresignTTL == 0 {
		c.AWS.PresignTTL = 5 * time.Minute
	}
	if c.AWS.AvatarMaxBytes == 0 {
		c.AWS.AvatarMaxBytes = 5 << 20
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 30 * 24 * time.Hour
	}
	if c.Invitations.TTL == 0 {
		c.Invitations.TTL = 48 * time.Hour
	}
	if c.Invitations.CodeLength == 0 {
		c.Invitations.CodeLength = 6
	}
	if c.PasswordReset.TTL == 0 {
		c.PasswordReset.TTL = 15 * time.Minute
	}
	if c.PasswordReset.MaxAttempts == 0 {
		c.PasswordReset.MaxAttempts = 5
	}
	if c.Push.ExpoURL == "" {
		c.Push.ExpoURL = "https://exp.host/--/api/v2/push/send"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Housekeeping.Interval == 0 {
		c.Housekeeping.Interval = 10 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	override(&c.Database.Password, "CIRCLES_DB_PASSWORD")
	override(&c.JWT.Secret, "CIRCLES_JWT_SECRET")
	override(&c.Redis.Password, "CIRCLES_REDIS_PASSWORD")
	override(&c.AWS.AccessKey, "CIRCLES_AWS_ACCESS_KEY")
	override(&c.AWS.SecretKey, "CIRCLES_AWS_SECRET_KEY")
	override(&c.Push.ExpoAccessToken, "CIRCLES_EXPO_ACCESS_TOKEN")
	override(&c.Mail.Password, "CIRCLES_SMTP_PASSWORD")
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.Invitations.CodeLength < 4 || c.Invitations.CodeLength > 12 {
		return fmt.Errorf("invitations.code_length must be between 4 and 12, got %d", c.Invitations.CodeLength)
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated as a
// single-host prefix.
func (s *ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: invalid address %q", raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the postgres:// form used by the migrator.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// APNsEnabled reports whether native iOS push is configured.
func (p *PushConfig) APNsEnabled() bool {
	return p.APNsKeyFile != "" && p.APNsKeyID != "" && p.APNsTeamID != "" && p.APNsTopic != ""
}
