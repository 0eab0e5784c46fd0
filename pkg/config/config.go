// Package config provides configuration management for pastebridge
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. PASTEBRIDGE_UPLOAD_ENDPOINT
const EnvPrefix = "PASTEBRIDGE"

// PipelineConfig holds the tunables of the extraction pipeline
type PipelineConfig struct {
	PasteConcurrency     int      `mapstructure:"paste_concurrency" yaml:"paste_concurrency" json:"paste_concurrency" validate:"gte=1,lte=32"`
	DropConcurrency      int      `mapstructure:"drop_concurrency" yaml:"drop_concurrency" json:"drop_concurrency" validate:"gte=1,lte=32"`
	RTFConcurrency       int      `mapstructure:"rtf_concurrency" yaml:"rtf_concurrency" json:"rtf_concurrency" validate:"gte=1,lte=32"`
	VendorNoiseThreshold int      `mapstructure:"vendor_noise_threshold" yaml:"vendor_noise_threshold" json:"vendor_noise_threshold" validate:"gte=0"`
	RTFMinBytes          int      `mapstructure:"rtf_min_bytes" yaml:"rtf_min_bytes" json:"rtf_min_bytes" validate:"gte=0"`
	VendorMarkers        []string `mapstructure:"vendor_markers" yaml:"vendor_markers" json:"vendor_markers" validate:"min=1,dive,required"`
	PlaceholderPhrases   []string `mapstructure:"placeholder_phrases" yaml:"placeholder_phrases" json:"placeholder_phrases"`
}

// NewPipelineConfig returns the pipeline defaults
func NewPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		PasteConcurrency:     3,
		DropConcurrency:      2,
		RTFConcurrency:       2,
		VendorNoiseThreshold: 50,
		RTFMinBytes:          512,
		VendorMarkers:        []string{"data-hwpjson", "vendor-json"},
		PlaceholderPhrases:   []string{"그림입니다. 원본 그림의 이름", "원본 그림의 이름"},
	}
}

// UploadConfig configures the client side of the upload endpoint
type UploadConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout" validate:"gte=0"`
	RetryAttempts uint          `mapstructure:"retry_attempts" yaml:"retry_attempts" json:"retry_attempts" validate:"gte=1,lte=10"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay" validate:"gte=0"`
	Folder        string        `mapstructure:"folder" yaml:"folder" json:"folder,omitempty"`
}

// NewUploadConfig returns the upload client defaults
func NewUploadConfig() *UploadConfig {
	return &UploadConfig{
		Endpoint:      "http://localhost:8080/api/upload",
		Timeout:       60 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    300 * time.Millisecond,
	}
}

// StorageConfig configures where the upload endpoint keeps files
type StorageConfig struct {
	Dir           string   `mapstructure:"dir" yaml:"dir" json:"dir" validate:"required"`
	PublicPrefix  string   `mapstructure:"public_prefix" yaml:"public_prefix" json:"public_prefix" validate:"required,startswith=/"`
	BaseURL       string   `mapstructure:"base_url" yaml:"base_url" json:"base_url,omitempty" validate:"omitempty,url"`
	DefaultFolder string   `mapstructure:"default_folder" yaml:"default_folder" json:"default_folder,omitempty"`
	MaxFileSize   int64    `mapstructure:"max_file_size" yaml:"max_file_size" json:"max_file_size" validate:"gt=0"`
	AllowedTypes  []string `mapstructure:"allowed_types" yaml:"allowed_types" json:"allowed_types"`
}

// NewStorageConfig returns the storage defaults
func NewStorageConfig() *StorageConfig {
	return &StorageConfig{
		Dir:          "public/uploads",
		PublicPrefix: "/public/uploads",
		MaxFileSize:  50 << 20,
		AllowedTypes: []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp", "image/svg+xml"},
	}
}

// TelemetryConfig configures the best-effort paste reports
type TelemetryConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Backend           string `mapstructure:"backend" yaml:"backend" json:"backend" validate:"oneof=http nats none"`
	ClipboardEndpoint string `mapstructure:"clipboard_endpoint" yaml:"clipboard_endpoint" json:"clipboard_endpoint" validate:"omitempty,url"`
	FinalEndpoint     string `mapstructure:"final_endpoint" yaml:"final_endpoint" json:"final_endpoint" validate:"omitempty,url"`
	NATSURL           string `mapstructure:"nats_url" yaml:"nats_url" json:"nats_url,omitempty" validate:"required_if=Backend nats"`
	Subject           string `mapstructure:"subject" yaml:"subject" json:"subject"`
}

// NewTelemetryConfig returns the telemetry defaults
func NewTelemetryConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:           true,
		Backend:           "http",
		ClipboardEndpoint: "http://localhost:8080/api/log/clipboard",
		FinalEndpoint:     "http://localhost:8080/api/log/final",
		Subject:           "pastebridge.reports",
	}
}

// BusyConfig selects the busy-guard backend
type BusyConfig struct {
	Backend   string        `mapstructure:"backend" yaml:"backend" json:"backend" validate:"oneof=local redis"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr" json:"redis_addr,omitempty" validate:"required_if=Backend redis"`
	RedisDB   int           `mapstructure:"redis_db" yaml:"redis_db" json:"redis_db" validate:"gte=0"`
	RedisPass string        `mapstructure:"redis_password" yaml:"redis_password" json:"-"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl" validate:"gt=0"`
}

// NewBusyConfig returns the busy-guard defaults
func NewBusyConfig() *BusyConfig {
	return &BusyConfig{
		Backend:   "local",
		KeyPrefix: "pastebridge:busy:",
		TTL:       2 * time.Minute,
	}
}

// EditorConfig configures editor attachment and reference fetching
type EditorConfig struct {
	ReadyMaxAttempts uint64        `mapstructure:"ready_max_attempts" yaml:"ready_max_attempts" json:"ready_max_attempts" validate:"gte=1"`
	ReadyInterval    time.Duration `mapstructure:"ready_interval" yaml:"ready_interval" json:"ready_interval" validate:"gt=0"`
	FetchBaseURL     string        `mapstructure:"fetch_base_url" yaml:"fetch_base_url" json:"fetch_base_url,omitempty" validate:"omitempty,url"`
}

// NewEditorConfig returns the editor defaults
func NewEditorConfig() *EditorConfig {
	return &EditorConfig{
		ReadyMaxAttempts: 30,
		ReadyInterval:    500 * time.Millisecond,
		FetchBaseURL:     "http://localhost:8080",
	}
}

// ServerConfig represents API server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host" json:"host" validate:"required"`
	Port         int           `mapstructure:"port" yaml:"port" json:"port" validate:"required,gt=0,lte=65535"`
	CORSEnabled  bool          `mapstructure:"cors_enabled" yaml:"cors_enabled" json:"cors_enabled"`
	CORSOrigins  []string      `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins,omitempty"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes" json:"max_body_bytes" validate:"gt=0"`
}

// NewServerConfig returns the server defaults
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		CORSEnabled:  true,
		CORSOrigins:  []string{"*"},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		MaxBodyBytes: 50 << 20,
	}
}

// AppConfig is the root configuration
type AppConfig struct {
	LogLevel       string           `mapstructure:"log_level" yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFile        string           `mapstructure:"log_file" yaml:"log_file" json:"log_file,omitempty"`
	MetricsEnabled bool             `mapstructure:"metrics_enabled" yaml:"metrics_enabled" json:"metrics_enabled"`
	Server         *ServerConfig    `mapstructure:"server" yaml:"server" json:"server" validate:"required"`
	Upload         *UploadConfig    `mapstructure:"upload" yaml:"upload" json:"upload" validate:"required"`
	Storage        *StorageConfig   `mapstructure:"storage" yaml:"storage" json:"storage" validate:"required"`
	Pipeline       *PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline" validate:"required"`
	Telemetry      *TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry" validate:"required"`
	Busy           *BusyConfig      `mapstructure:"busy" yaml:"busy" json:"busy" validate:"required"`
	Editor         *EditorConfig    `mapstructure:"editor" yaml:"editor" json:"editor" validate:"required"`
}

// NewAppConfig creates a configuration populated with defaults
func NewAppConfig() *AppConfig {
	return &AppConfig{
		LogLevel:       "info",
		MetricsEnabled: true,
		Server:         NewServerConfig(),
		Upload:         NewUploadConfig(),
		Storage:        NewStorageConfig(),
		Pipeline:       NewPipelineConfig(),
		Telemetry:      NewTelemetryConfig(),
		Busy:           NewBusyConfig(),
		Editor:         NewEditorConfig(),
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate validates the configuration
func (c *AppConfig) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return pberrors.NewConfigInvalidError(err.Error())
	}
	return nil
}

// ToYAMLFile saves configuration to a YAML file
func (c *AppConfig) ToYAMLFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Load reads defaults, the optional file at path and PASTEBRIDGE_* environment overrides
func Load(path string) (*AppConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	if err := setDefaults(v, NewAppConfig()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, pberrors.NewConfigNotFoundError(path)
	}
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "yml" {
		v.SetConfigType("yaml")
	} else if ext != "" {
		v.SetConfigType(ext)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	cfg := NewAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every field of defaults with viper so that
// environment overrides apply to keys absent from the file.
func setDefaults(v *viper.Viper, defaults *AppConfig) error {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	setDefaultTree(v, "", tree)
	return nil
}

func setDefaultTree(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			setDefaultTree(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

// ConfigManager holds the live configuration and reloads it when the file changes
type ConfigManager struct {
	mu      sync.RWMutex
	current *AppConfig
	viper   *viper.Viper
	path    string
}

// NewConfigManager loads the configuration at path
func NewConfigManager(path string) (*ConfigManager, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{current: cfg, viper: v, path: path}, nil
}

// Current returns the active configuration
func (cm *ConfigManager) Current() *AppConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.current
}

// Watch reloads the file on change and hands each valid configuration to callback.
// Invalid edits are passed to onError and the previous configuration stays active.
func (cm *ConfigManager) Watch(ctx context.Context, callback func(*AppConfig), onError func(error)) error {
	if cm.path == "" {
		return pberrors.NewConfigError("no configuration file to watch")
	}

	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cfg, err := decode(cm.viper)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		cm.mu.Lock()
		cm.current = cfg
		cm.mu.Unlock()

		callback(cfg)
	})
	cm.viper.WatchConfig()

	return nil
}
