package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Server Server `yaml:"server"`
	Feed   Feed   `yaml:"feed"`
}

type Server struct {
	ListenAddr    string `yaml:"listenAddr"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Feed struct {
	Relays           string `yaml:"relays"`   // comma-separated relay URLs
	RelayURL         string `yaml:"relayUrl"` // single-relay fallback
	ReconnectDelayMs int    `yaml:"reconnectDelayMs"`
	Enabled          *bool  `yaml:"enabled"`
	SourceName       string `yaml:"sourceName"`
}

// RelayList splits the configured relay list, falling back to the single
// relay URL when no list is set.
func (f Feed) RelayList() []string {
	raw := f.Relays
	if strings.TrimSpace(raw) == "" {
		raw = f.RelayURL
	}
	var urls []string
	for _, url := range strings.Split(raw, ",") {
		url = strings.TrimSpace(url)
		if url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

func (f Feed) ReconnectDelay() time.Duration {
	if f.ReconnectDelayMs <= 0 {
		return 5000 * time.Millisecond
	}
	return time.Duration(f.ReconnectDelayMs) * time.Millisecond
}

// IsEnabled defaults to true when the flag is absent.
func (f Feed) IsEnabled() bool {
	if f.Enabled == nil {
		return true
	}
	return *f.Enabled
}

// Load reads the yaml configuration and applies environment overrides. A
// missing file is not fatal; the feed settings can come entirely from the
// environment.
func Load(path string) (Config, error) {
	var config Config

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	applyEnv(&config)

	if config.Server.ListenAddr == "" {
		config.Server.ListenAddr = ":8000"
	}

	return config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv("RELAY_URLS"); v != "" {
		config.Feed.Relays = v
	}
	if v := os.Getenv("RELAY_URL"); v != "" {
		config.Feed.RelayURL = v
	}
	if v := os.Getenv("RECONNECT_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			config.Feed.ReconnectDelayMs = ms
		}
	}
	if v := os.Getenv("FEED_ENABLED"); v != "" {
		enabled := v != "false" && v != "0"
		config.Feed.Enabled = &enabled
	}
	if v := os.Getenv("FEED_SOURCE_NAME"); v != "" {
		config.Feed.SourceName = v
	}
}
