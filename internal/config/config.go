// Package config loads daemon configuration from FT_* environment variables
// and derives the on-disk layout used by the rest of the system.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Timing constants shared between the controller and the scheduler.
const (
	// InitialEmptyExperienceDelay is how long the controller waits after boot
	// before clearing the display, so an early operator set is not raced.
	InitialEmptyExperienceDelay = 5 * time.Second

	// CaptureFailedTimeout is the minimum grace period before a capture
	// environment with no reported processes is considered failed.
	CaptureFailedTimeout = 30 * time.Second

	// InteractionTimeout is how long a client interaction holds the scheduler.
	InteractionTimeout = 30 * time.Second

	// CommercialInterval is the minimum spacing between commercials.
	CommercialInterval = 5 * time.Minute

	// CurrentExperienceSetDelay is the throttle the scheduler passes on every
	// PUT /current so operator changes win for a few seconds.
	CurrentExperienceSetDelay = 5 * time.Second
)

// Config is the process-wide configuration, populated once at startup.
type Config struct {
	DataPath         string `envconfig:"FT_DATA_PATH"`
	ConfigPath       string `envconfig:"FT_CONFIG_PATH"`
	MessagingBaseURL string `envconfig:"FT_MSG_URL" default:"ws://localhost:8000/messaging"`
	ControllerURL    string `envconfig:"FT_CONTROLLER_URL" default:"http://localhost:8000"`
	WebClientURL     string `envconfig:"FT_WEB_URL" default:"http://localhost:3000"`
	ListenAddr       string `envconfig:"FT_LISTEN_ADDR" default:":8000"`
	RollbarToken     string `envconfig:"FT_ROLLBAR"`
	CheckStability   bool   `envconfig:"FT_CHECK_STABILITY" default:"false"`
	DisableWM        bool   `envconfig:"FT_DISABLE_WM" default:"false"`
	DisablePlacard   bool   `envconfig:"FT_DISABLE_PLACARD" default:"false"`
	CaptureAPIURL    string `envconfig:"FT_CAPTURE_API_URL" default:"http://localhost:8089"`
	WMAddr           string `envconfig:"FT_WM_ADDR" default:"localhost:5557"`
	Display          string `envconfig:"DISPLAY" default:":0"`
}

// Load populates Config from the environment, applying XDG defaults for the
// data and config paths.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(xdgConfigHome(), "footron")
	}
	if cfg.DataPath == "" {
		cfg.DataPath = cfg.ConfigPath
	}
	return cfg, nil
}

func xdgConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return filepath.Join(home, ".config")
}

// ExperiencesPath is the directory holding one subdirectory per experience.
func (c Config) ExperiencesPath() string {
	return filepath.Join(c.DataPath, "experiences")
}

// ExperienceDataPath holds per-image /localdata mounts for docker experiences.
func (c Config) ExperienceDataPath() string {
	return filepath.Join(c.DataPath, "experience-data")
}

// BinPath holds helper binaries (loader, capture shell).
func (c Config) BinPath() string {
	return filepath.Join(c.DataPath, "bin")
}

// ColorsPath is the badger store for extracted color palettes.
func (c Config) ColorsPath() string {
	return filepath.Join(c.DataPath, "colors")
}

// ReleasesPath holds uploaded experience releases.
func (c Config) ReleasesPath() string {
	return filepath.Join(c.DataPath, "releases")
}

// ChromeProfilePath holds per-experience browser profiles.
func (c Config) ChromeProfilePath() string {
	return filepath.Join(c.DataPath, "chrome-data")
}

// PlacardSocketPath is the unix socket the placard service listens on.
func (c Config) PlacardSocketPath() string {
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if runtime == "" {
		runtime = "/tmp"
	}
	return filepath.Join(runtime, "placard", "socket")
}

// EnsurePaths creates the directories the daemon expects to exist.
func (c Config) EnsurePaths() error {
	for _, dir := range []string{
		c.ExperiencesPath(),
		c.ExperienceDataPath(),
		c.BinPath(),
		c.ReleasesPath(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
