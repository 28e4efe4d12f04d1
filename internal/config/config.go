package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults, err := flattenDefaults(DefaultConfig())
	if err != nil {
		return err
	}
	for key, value := range defaults {
		cm.v.SetDefault(key, value)
	}

	// Environment variables with SCANRELAY_ prefix, e.g. SCANRELAY_DRY_RUN
	cm.v.SetEnvPrefix("SCANRELAY")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.scanrelay")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// flattenDefaults turns the default config into dotted viper keys so a
// partial section in the config file keeps the remaining defaults.
func flattenDefaults(cfg *Config) (map[string]any, error) {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yamlv3.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}

	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]any); ok {
				walk(key, child)
				continue
			}
			out[key] = val
		}
	}
	walk("", tree)
	return out, nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
// Invalid edits are ignored and the previous config stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var validDocTypes = map[string]bool{
	"":                 true,
	"general":          true,
	"ordercertificate": true,
	"workorder":        true,
	"purchaseorder":    true,
}

// Validate checks folder definitions and patterns.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Folders))
	for i, f := range c.Folders {
		if f.Name == "" {
			return fmt.Errorf("folders[%d]: name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("folders[%d]: duplicate folder name %q", i, f.Name)
		}
		seen[f.Name] = true
		if f.InputDir == "" {
			return fmt.Errorf("folder %q: input_dir is required", f.Name)
		}
		if f.RejectDir == "" {
			return fmt.Errorf("folder %q: reject_dir is required", f.Name)
		}
		if !validDocTypes[strings.ToLower(f.DocType)] {
			return fmt.Errorf("folder %q: unknown doc_type %q", f.Name, f.DocType)
		}
	}
	if c.Extract.WorkOrderPattern != "" {
		if _, err := regexp.Compile(c.Extract.WorkOrderPattern); err != nil {
			return fmt.Errorf("extract.work_order_pattern: %w", err)
		}
	}
	if t := c.Validation.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("validation.confidence_threshold must be within [0,1], got %v", t)
	}
	return nil
}

// SlogLevel maps log_level to a slog level (default info).
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var envRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// QualerAPIKey returns the resolved record-system API key.
func (c *Config) QualerAPIKey() string {
	return ResolveEnvVars(c.Qualer.APIKey)
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	cfg.Folders = []FolderCfg{ExampleFolder()}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# scanrelay configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export QUALER_API_KEY=xxx GOOGLE_CLOUD_PROJECT=xxx OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
