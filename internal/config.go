package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/agencydesk/internal/api"
	"github.com/starford/agencydesk/internal/docstore"
	"github.com/starford/agencydesk/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = api.AuthDisabled
	AuthModeToken    = api.AuthToken
	AuthModeJWT      = api.AuthJWT
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app" toml:"app"`
	Storage   StorageConfig     `yaml:"storage" toml:"storage"`
	Documents DocumentsConfig   `yaml:"documents" toml:"documents"`
	Auth      AuthConfig        `yaml:"auth" toml:"auth"`
	Events    EventsConfig      `yaml:"events" toml:"events"`
	Backup    BackupConfig      `yaml:"backup" toml:"backup"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Documents.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}
	return c.Backup.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	// Name prefixes export file names and is recorded in bundle metadata.
	Name string     `yaml:"name" toml:"name"`
	HTTP HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 64)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects the document substrate.
//
// Driver is one of:
//   - "fs" (default): one JSON file per document under Path.
//   - "sqlite": a single database file at Path.
//   - "postgres": the database at DSN.
//   - "memory": nothing is persisted; for demos and tests.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = storage.DriverFS
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(storage.DriverFS, storage.DriverSQLite, storage.DriverPostgres, storage.DriverMemory)),
		validation.Field(&c.Path,
			validation.When(c.Driver == storage.DriverFS || c.Driver == storage.DriverSQLite, validation.Required)),
		validation.Field(&c.DSN,
			validation.When(c.Driver == storage.DriverPostgres, validation.Required)),
	)
}

// DocumentsConfig describes the documents the dashboard keeps.
type DocumentsConfig struct {
	// Keys are the recognized documents consulted when deciding whether there is data to back up.
	Keys []string `yaml:"keys" toml:"keys"`
	// LegacyKeys are removed at startup.
	LegacyKeys []string `yaml:"legacy_keys" toml:"legacy_keys"`
	// MaxDocumentBytes caps a single document's encoded size. Zero disables the cap.
	MaxDocumentBytes int `yaml:"max_document_bytes" toml:"max_document_bytes"`
}

// Validate validates the documents configuration.
func (c *DocumentsConfig) Validate() error {
	key := validation.By(func(v any) error {
		s, _ := v.(string)
		return docstore.ValidateKey(s)
	})
	return validation.ValidateStruct(c,
		validation.Field(&c.Keys, validation.Each(key)),
		validation.Field(&c.LegacyKeys, validation.Each(key)),
		validation.Field(&c.MaxDocumentBytes, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//   - "jwt": HS256 JWTs signed with JWTSecret; the sub claim identifies the writer.
type AuthConfig struct {
	Mode      string `yaml:"mode" toml:"mode"`
	Token     string `yaml:"token" toml:"token"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken, AuthModeJWT)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	if c.Mode == AuthModeJWT && c.JWTSecret == "" {
		return fmt.Errorf("auth: mode is %q but jwt_secret is empty", AuthModeJWT)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken || c.Mode == AuthModeJWT
}

// API converts the configuration for the HTTP layer.
func (c *AuthConfig) API() api.AuthConfig {
	return api.AuthConfig{Mode: c.Mode, Token: c.Token, JWTSecret: c.JWTSecret}
}

// EventsConfig configures the cross-instance change relay.
type EventsConfig struct {
	// NATSURL enables the relay when set.
	NATSURL       string `yaml:"nats_url" toml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SubjectPrefix, validation.When(c.NATSURL != "", validation.Required)),
	)
}

// Enabled reports whether the relay should run.
func (c *EventsConfig) Enabled() bool {
	return c.NATSURL != ""
}

// BackupConfig configures scheduled exports.
type BackupConfig struct {
	// Interval between scheduled backups. Zero disables the scheduler.
	Interval time.Duration `yaml:"interval" toml:"interval"`
	Dir      string        `yaml:"dir" toml:"dir"`
	S3       S3Config      `yaml:"s3" toml:"s3"`
}

// S3Config holds the S3-compatible bucket used for backups.
type S3Config struct {
	Bucket   string `yaml:"bucket" toml:"bucket"`
	Region   string `yaml:"region" toml:"region"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// Validate validates the backup configuration.
func (c *BackupConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.Interval > 0 && c.Dir == "" && c.S3.Bucket == "" {
		return fmt.Errorf("backup: interval is set but neither dir nor s3.bucket is configured")
	}
	return validation.ValidateStruct(&c.S3,
		validation.Field(&c.S3.Region, validation.When(c.S3.Bucket != "", validation.Required)),
	)
}

// Enabled reports whether scheduled backups should run.
func (c *BackupConfig) Enabled() bool {
	return c.Interval > 0 && (c.Dir != "" || c.S3.Bucket != "")
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Name:     "agencydesk",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Driver: storage.DriverFS,
			Path:   "./data",
		},
		Documents: DocumentsConfig{
			Keys:             append([]string(nil), docstore.DefaultKeys...),
			LegacyKeys:       append([]string(nil), docstore.DefaultLegacyKeys...),
			MaxDocumentBytes: 5 << 20,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Events: EventsConfig{
			SubjectPrefix: "agencydesk",
		},
	}
}
