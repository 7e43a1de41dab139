// Package config loads service configuration from a YAML file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/and161185/jwt-auth/internal/directory"
	"github.com/and161185/jwt-auth/internal/limiter"
	"github.com/and161185/jwt-auth/internal/model"
	"github.com/and161185/jwt-auth/internal/token"
	"github.com/and161185/jwt-auth/internal/usersync"
)

const envPrefix = "JWTAUTH_"

// Update-local modes for mapped fields.
const (
	UpdateOnCreate = "oncreate"
	UpdateOnLogin  = "onlogin"
)

// Config holds application configuration.
type Config struct {
	Issuer           string `yaml:"issuer"`
	Secret           string `yaml:"secret" validate:"required"`
	ExpirySeconds    int    `yaml:"expiry" validate:"gte=0"`
	LogoutURI        string `yaml:"logout_uri"`
	AllowManualLogin bool   `yaml:"allow_manual_login"`
	LoginSalt        string `yaml:"login_salt"`

	Local     LocalConfig          `yaml:"local"`
	Directory DirectoryConfig      `yaml:"directory"`
	Sync      SyncConfig           `yaml:"sync"`
	Fields    map[string]FieldRule `yaml:"fields" validate:"dive"`
	Server    ServerConfig         `yaml:"server"`
	Log       LogConfig            `yaml:"log"`
	Limiter   LimiterConfig        `yaml:"limiter"`
}

// LocalConfig addresses the local identity store.
type LocalConfig struct {
	DSN string `yaml:"dsn"`
}

// DirectoryConfig describes the external user table.
type DirectoryConfig struct {
	DSN           string `yaml:"dsn"`
	Table         string `yaml:"table"`
	IdnumberField string `yaml:"idnumber_field"`
	UsernameField string `yaml:"username_field"`
	EmailField    string `yaml:"email_field"`
	PasswordField string `yaml:"password_field"`
}

// SyncConfig controls reconciliation.
type SyncConfig struct {
	RemoveUser  model.RemovePolicy `yaml:"remove_user" validate:"omitempty,oneof=keep suspend delete"`
	UpdateUsers bool               `yaml:"update_users"`
	AuthType    string             `yaml:"auth_type"`
	MnetHostID  int64              `yaml:"mnet_host_id" validate:"gte=0"`
	DefaultLang string             `yaml:"default_lang"`
	ChunkSize   int                `yaml:"chunk_size" validate:"gte=0"`
}

// FieldRule maps a local field to an external column.
type FieldRule struct {
	Map         string `yaml:"map"`
	UpdateLocal string `yaml:"update_local" validate:"omitempty,oneof=oncreate onlogin"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	AccessLog   bool   `yaml:"access_log"`
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Debug       bool `yaml:"debug"`
	Development bool `yaml:"development"`
}

// LimiterConfig tunes manual login throttling.
type LimiterConfig struct {
	Window   time.Duration `yaml:"window"`
	MaxFails int           `yaml:"max_fails" validate:"gte=0"`
	BlockFor time.Duration `yaml:"block_for"`
}

// Load reads configuration. path may be empty; a missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Directory.DSN != "" && (c.Directory.Table == "" || c.Directory.IdnumberField == "" || c.Directory.UsernameField == "") {
		return errors.New("invalid config: directory requires table, idnumber_field and username_field")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Sync.RemoveUser == "" {
		c.Sync.RemoveUser = model.RemoveKeep
	}
	if c.Sync.AuthType == "" {
		c.Sync.AuthType = "jwt"
	}
	if c.Sync.MnetHostID == 0 {
		c.Sync.MnetHostID = 1
	}
	if c.Sync.DefaultLang == "" {
		c.Sync.DefaultLang = "en"
	}
	if c.Sync.ChunkSize == 0 {
		c.Sync.ChunkSize = 10000
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ISSUER":                   &c.Issuer,
		"SECRET":                   &c.Secret,
		"LOGOUT_URI":               &c.LogoutURI,
		"LOGIN_SALT":               &c.LoginSalt,
		"LOCAL_DSN":                &c.Local.DSN,
		"DIRECTORY_DSN":            &c.Directory.DSN,
		"DIRECTORY_TABLE":          &c.Directory.Table,
		"DIRECTORY_IDNUMBER_FIELD": &c.Directory.IdnumberField,
		"DIRECTORY_USERNAME_FIELD": &c.Directory.UsernameField,
		"DIRECTORY_EMAIL_FIELD":    &c.Directory.EmailField,
		"DIRECTORY_PASSWORD_FIELD": &c.Directory.PasswordField,
		"SYNC_AUTH_TYPE":           &c.Sync.AuthType,
		"SYNC_DEFAULT_LANG":        &c.Sync.DefaultLang,
		"SERVER_ADDR":              &c.Server.Addr,
		"METRICS_ADDR":             &c.Server.MetricsAddr,
	}
	for k, dst := range str {
		if v, ok := os.LookupEnv(envPrefix + k); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "SYNC_REMOVE_USER"); ok {
		c.Sync.RemoveUser = model.RemovePolicy(strings.ToLower(v))
	}

	bools := map[string]*bool{
		"ALLOW_MANUAL_LOGIN": &c.AllowManualLogin,
		"SYNC_UPDATE_USERS":  &c.Sync.UpdateUsers,
		"LOG_DEBUG":          &c.Log.Debug,
		"LOG_DEVELOPMENT":    &c.Log.Development,
		"ACCESS_LOG":         &c.Server.AccessLog,
	}
	for k, dst := range bools {
		if v, ok := os.LookupEnv(envPrefix + k); ok {
			*dst = v == "true" || v == "1" || v == "yes"
		}
	}

	ints := map[string]*int{
		"EXPIRY":          &c.ExpirySeconds,
		"SYNC_CHUNK_SIZE": &c.Sync.ChunkSize,
	}
	for k, dst := range ints {
		if v, ok := os.LookupEnv(envPrefix + k); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, k, err)
			}
			*dst = n
		}
	}
	return nil
}

// TokenConfig returns the codec configuration.
func (c *Config) TokenConfig() token.Config {
	return token.Config{
		Issuer: c.Issuer,
		Secret: []byte(c.Secret),
		Expiry: time.Duration(c.ExpirySeconds) * time.Second,
	}
}

// FieldMappings returns local field -> external column for every mapped field.
// username is always present; email falls back to the directory email column and
// password is included when a password column is configured.
func (c *Config) FieldMappings() map[string]string {
	out := map[string]string{}
	for field, rule := range c.Fields {
		if rule.Map != "" {
			out[field] = rule.Map
		}
	}
	if _, ok := out["email"]; !ok && c.Directory.EmailField != "" {
		out["email"] = c.Directory.EmailField
	}
	out["username"] = c.Directory.UsernameField
	if c.Directory.PasswordField != "" {
		out["password"] = c.Directory.PasswordField
	}
	return out
}

// UpdateOnLogin returns, sorted, the fields configured to refresh on every sync.
func (c *Config) UpdateOnLogin() []string {
	var out []string
	for field, rule := range c.Fields {
		if rule.UpdateLocal == UpdateOnLogin {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}

// SyncOptions returns the synchronizer options.
func (c *Config) SyncOptions() usersync.Options {
	return usersync.Options{
		AuthType:         c.Sync.AuthType,
		RemovePolicy:     c.Sync.RemoveUser,
		UpdateOnLogin:    c.UpdateOnLogin(),
		AllowManualLogin: c.AllowManualLogin,
		LoginSalt:        c.LoginSalt,
		MnetHostID:       c.Sync.MnetHostID,
		DefaultLang:      c.Sync.DefaultLang,
		ChunkSize:        c.Sync.ChunkSize,
	}
}

// DirectorySchema describes the external table for the directory reader.
func (c *Config) DirectorySchema() directory.Schema {
	return directory.Schema{
		Table:         c.Directory.Table,
		IdnumberField: c.Directory.IdnumberField,
		UsernameField: c.Directory.UsernameField,
		Fields:        c.FieldMappings(),
	}
}

// LimiterPolicy returns the login throttling policy; unset values take the defaults.
func (c *Config) LimiterPolicy() limiter.Policy {
	p := limiter.DefaultPolicy
	if c.Limiter.Window > 0 {
		p.Window = c.Limiter.Window
	}
	if c.Limiter.MaxFails > 0 {
		p.MaxFails = c.Limiter.MaxFails
	}
	if c.Limiter.BlockFor > 0 {
		p.BlockFor = c.Limiter.BlockFor
	}
	return p
}
