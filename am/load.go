package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/statetree/errors"
)

// EnvPrefix prefixes environment overrides, e.g. STATETREE_SYNC_NAME.
const EnvPrefix = "STATETREE"

// ProjectFile is the config file name searched for upward from the working
// directory.
const ProjectFile = "am.toml"

// SystemConfigPath is the lowest-precedence config file.
var SystemConfigPath = "/etc/statetree/am.toml"

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records which file set each dotted key during the last
	// load. Keys absent from the map come from defaults or the environment.
	ConfigSources = map[string]SourceInfo{}
)

// Load reads the statetree configuration using Viper. The result is cached
// until Reset.
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	loadMu.Lock()
	defer loadMu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path over the
// defaults, without environment overrides.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %s", configPath)
	}
	return cfg, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults.
// Caller holds loadMu.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindEnvVars(v)
	SetDefaults(v)

	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// UserConfigDir returns ~/.statetree.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".statetree")
}

// findProjectConfig searches for am.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none found
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// configFiles lists candidate files with their source, lowest precedence first.
func configFiles() []SourceInfo {
	files := []SourceInfo{{Source: SourceSystem, Path: SystemConfigPath}}
	if dir := UserConfigDir(); dir != "" {
		files = append(files, SourceInfo{Source: SourceUser, Path: filepath.Join(dir, "am.toml")})
	}
	if project := findProjectConfig(); project != "" {
		files = append(files, SourceInfo{Source: SourceProject, Path: project})
	}
	return files
}

// mergeConfigFiles manually merges configuration files in precedence order.
// Unreadable files are skipped.
func mergeConfigFiles(v *viper.Viper) {
	var last string
	for _, f := range configFiles() {
		if _, err := os.Stat(f.Path); err != nil {
			continue
		}
		tmp := viper.New()
		tmp.SetConfigFile(f.Path)
		tmp.SetConfigType("toml")
		if err := tmp.ReadInConfig(); err != nil {
			continue
		}
		settings := tmp.AllSettings()
		markSettingsFromSource(settings, "", f.Source, f.Path, ConfigSources)
		// the config layer sits below environment overrides
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		last = f.Path
	}
	if last != "" {
		v.SetConfigFile(last)
	}
}

// ActiveConfigFile returns the highest-precedence config file that was
// merged, or "" when only defaults apply.
func ActiveConfigFile() string {
	return GetViper().ConfigFileUsed()
}

// markSettingsFromSource records source for every leaf key of settings.
func markSettingsFromSource(settings map[string]interface{}, prefix string, source ConfigSource, path string, out map[string]SourceInfo) {
	for key, value := range settings {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			markSettingsFromSource(nested, full, source, path, out)
			continue
		}
		out[full] = SourceInfo{Source: source, Path: path}
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	return GetViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return GetViper().GetString(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	return GetViper().GetBool(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	return GetViper().GetInt(key)
}
