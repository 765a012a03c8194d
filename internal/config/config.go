package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Discovery DiscoveryConfig
	CLI       CLIConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type DiscoveryConfig struct {
	// Endpoint is an operator-configured backend URL. When set it is
	// probed before any guessed candidate.
	Endpoint string

	// LANAddr is the machine's LAN IP, used to build a LAN candidate.
	LANAddr string

	// Fallbacks are remote endpoints probed last, after all local guesses.
	Fallbacks []string

	// Verbose enables per-candidate probe logging.
	Verbose bool
}

type CLIConfig struct {
	// Bin is the local inference CLI binary name or path.
	Bin string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4080,
		},
		CLI: CLIConfig{
			Bin: "ollama",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "inferelay")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inferelay"
	}
	return filepath.Join(home, ".local", "share", "inferelay")
}

// Load reads configuration from defaults and INFERELAY_* environment
// variables. Environment values override defaults.
func Load() (Config, error) {
	return loadWith(os.Getenv)
}

// loadWith is the testable core of Load; getenv abstracts os.Getenv.
func loadWith(getenv func(string) string) (Config, error) {
	cfg := defaults()

	if v := getenv("INFERELAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INFERELAY_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("INFERELAY_ENDPOINT"); v != "" {
		cfg.Discovery.Endpoint = v
	}
	if v := getenv("INFERELAY_LAN_ADDR"); v != "" {
		cfg.Discovery.LANAddr = v
	}
	if v := getenv("INFERELAY_FALLBACK_ENDPOINTS"); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				cfg.Discovery.Fallbacks = append(cfg.Discovery.Fallbacks, f)
			}
		}
	}
	if v := getenv("INFERELAY_VERBOSE_DISCOVERY"); v != "" {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INFERELAY_VERBOSE_DISCOVERY %q: %w", v, err)
		}
		cfg.Discovery.Verbose = verbose
	}
	if v := getenv("INFERELAY_OLLAMA_BIN"); v != "" {
		cfg.CLI.Bin = v
	}
	if v := getenv("INFERELAY_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("INFERELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
