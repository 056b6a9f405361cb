// Package config holds runtime configuration for the maap CLI and
// client. Values are populated from ~/.maap/config.toml, MAAP_* env
// vars, and CLI flags, with built-in defaults underneath.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/earthfocus/maap-client/internal/granule"
)

// DefaultCollections are the known EarthCARE collections. A config file
// can replace the list (mission.collections) or extend it
// (mission.collections_extend).
var DefaultCollections = []string{
	"EarthCAREL0L1Products_MAAP",
	"EarthCAREL1InstChecked_MAAP",
	"EarthCAREL1Validated_MAAP",
	"EarthCAREL2InstChecked_MAAP",
	"EarthCAREL2Products_MAAP",
	"EarthCAREL2Validated_MAAP",
	"EarthCAREAuxiliary_MAAP",
	"EarthCAREOrbitData_MAAP",
	"EarthCAREXMETL1DProducts10_MAAP",
	"JAXAL2InstChecked_MAAP",
	"JAXAL2Products_MAAP",
	"JAXAL2Validated_MAAP",
}

// PathsConfig locates the on-disk trees the client writes.
type PathsConfig struct {
	DataDir         string `mapstructure:"data_dir" toml:"data_dir"`
	CatalogDir      string `mapstructure:"catalog_dir" toml:"catalog_dir"`
	BuiltCatalogDir string `mapstructure:"built_catalog_dir" toml:"built_catalog_dir"`
	RegistryDir     string `mapstructure:"registry_dir" toml:"registry_dir"`
	CredentialsFile string `mapstructure:"credentials_file" toml:"credentials_file"`
}

// APIConfig holds service endpoints.
type APIConfig struct {
	CatalogURL string `mapstructure:"catalog_url" toml:"catalog_url"`
	TokenURL   string `mapstructure:"token_url" toml:"token_url"`
}

// MissionConfig describes the mission being tracked.
type MissionConfig struct {
	Name              string   `mapstructure:"name" toml:"name"`
	Start             string   `mapstructure:"start" toml:"start"`
	End               string   `mapstructure:"end" toml:"end"`
	Collections       []string `mapstructure:"collections" toml:"collections"`
	CollectionsExtend []string `mapstructure:"collections_extend" toml:"collections_extend,omitempty"`
}

// Config is the full client configuration. The toml tags keep
// "maap config show" output loadable as a config file.
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths" toml:"paths"`
	API     APIConfig     `mapstructure:"api" toml:"api"`
	Mission MissionConfig `mapstructure:"mission" toml:"mission"`
	Verbose bool          `mapstructure:"verbose" toml:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for
// any values not set by config file, environment, or flags. Paths are
// tilde-expanded and collections_extend is merged into the collection
// list.
func Load() (Config, error) {
	viper.SetDefault("paths.data_dir", "~/.maap/data")
	viper.SetDefault("paths.catalog_dir", "~/.maap/catalogs")
	viper.SetDefault("paths.built_catalog_dir", "~/.maap/built_catalogs")
	viper.SetDefault("paths.registry_dir", "~/.maap/registry")
	viper.SetDefault("paths.credentials_file", "~/.maap/credentials.txt")
	viper.SetDefault("api.catalog_url", "https://catalog.maap.eo.esa.int/catalogue")
	viper.SetDefault("api.token_url", "https://iam.maap.eo.esa.int/realms/esa-maap/protocol/openid-connect/token")
	viper.SetDefault("mission.name", "EarthCARE")
	viper.SetDefault("mission.start", "2024-05-28T00:00:00Z")
	viper.SetDefault("mission.end", "2045-12-31T23:59:59Z")
	viper.SetDefault("mission.collections", DefaultCollections)
	viper.SetDefault("mission.collections_extend", []string{})
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.Paths.DataDir = ExpandHome(cfg.Paths.DataDir)
	cfg.Paths.CatalogDir = ExpandHome(cfg.Paths.CatalogDir)
	cfg.Paths.BuiltCatalogDir = ExpandHome(cfg.Paths.BuiltCatalogDir)
	cfg.Paths.RegistryDir = ExpandHome(cfg.Paths.RegistryDir)
	cfg.Paths.CredentialsFile = ExpandHome(cfg.Paths.CredentialsFile)

	for _, c := range cfg.Mission.CollectionsExtend {
		if !contains(cfg.Mission.Collections, c) {
			cfg.Mission.Collections = append(cfg.Mission.Collections, c)
		}
	}
	cfg.Mission.CollectionsExtend = nil

	return cfg, nil
}

// MissionStart parses the configured mission start time.
func (c Config) MissionStart() (time.Time, error) {
	t, err := granule.ParseTime(c.Mission.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: mission.start: %w", err)
	}
	return t, nil
}

// MissionEnd parses the configured mission end time.
func (c Config) MissionEnd() (time.Time, error) {
	t, err := granule.ParseTime(c.Mission.End)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: mission.end: %w", err)
	}
	return t, nil
}

// EnsureDirectories creates the data, catalog, and registry trees plus
// the credentials file's parent.
func (c Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.CatalogDir,
		c.Paths.BuiltCatalogDir,
		c.Paths.RegistryDir,
		filepath.Dir(c.Paths.CredentialsFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
