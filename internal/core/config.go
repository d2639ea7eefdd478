package core

import (
	"time"
)

type Config struct {
	Spotify SpotifyConfig
	Plex    PlexConfig
	Lidarr  LidarrConfig
	Cache   CacheConfig
	Sync    SyncConfig
	Server  ServerConfig
	Log     LogConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
}

type PlexConfig struct {
	ServerURL     string
	Token         string
	Users         []string          // empty = single default identity
	UserTokens    map[string]string // per-user access tokens, default token used when absent
	MusicSection  string            // library section ID, discovered when empty
	SkipTLSVerify bool
	SearchLimit   int
	SearchRate    float64 // searches per second against the target library
}

type LidarrConfig struct {
	BaseURL string
	APIKey  string
}

type CacheConfig struct {
	Enabled    bool
	Dir        string
	TTL        time.Duration
	MaxEntries int // size of the in-process read-through layer
}

type SyncConfig struct {
	ManualPlaylists  []string
	Replace          bool
	Parallelism      int
	MatchParallelism int
	RequestTimeout   time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	Interval         time.Duration // serve-mode sync period
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level string
}

func DefaultConfig() *Config {
	return &Config{
		Plex: PlexConfig{
			SearchLimit: 30,
			SearchRate:  10,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        time.Hour,
			MaxEntries: 4096,
		},
		Sync: SyncConfig{
			Parallelism:      3,
			MatchParallelism: 4,
			RequestTimeout:   30 * time.Second,
			MaxRetries:       3,
			RetryBaseDelay:   2 * time.Second,
			Interval:         time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Mode returns the playlist mutation policy selected by the configuration.
func (c *SyncConfig) Mode() SyncMode {
	if c.Replace {
		return ModeReplace
	}
	return ModeUpdate
}
