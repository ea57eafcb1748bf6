package sbd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for sbd.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Media   MediaConfig   `toml:"media"`
	Modules ModulesConfig `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for the external MQTT broker connection.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// MediaConfig locates the media library and the queue artifact.
type MediaConfig struct {
	Root      string `toml:"root"`
	QueuePath string `toml:"queue_path"`
}

// QueueFile returns the queue artifact path, derived from the media root
// when not configured explicitly.
func (m MediaConfig) QueueFile() string {
	if m.QueuePath != "" {
		return m.QueuePath
	}
	return filepath.Join(filepath.Dir(m.Root), "playlists", "current.m3u")
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	Player       PlayerConfig       `toml:"player"`
	Triggers     TriggersConfig     `toml:"triggers"`
	WebAPI       WebAPIConfig       `toml:"web_api"`
	FeedSync     FeedSyncConfig     `toml:"feed_sync"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// PlayerConfig configures the player module.
type PlayerConfig struct {
	Enabled             bool            `toml:"enabled"`
	NodeID              string          `toml:"node_id"`
	Engine              string          `toml:"engine"`
	IdleToRandomSeconds int64           `toml:"idle_to_random_seconds"`
	PublishState        bool            `toml:"publish_state"`
	AudioOutputDevice   string          `toml:"audio_output_device"`
	MPVBinary           string          `toml:"mpv_binary"`
	MPVSocket           string          `toml:"mpv_socket"`
	MPVExtraArgs        []string        `toml:"mpv_extra_args"`
	GSTPipeline         string          `toml:"gst_pipeline"`
	DailyShutdownTime   string          `toml:"daily_shutdown_time"`
	ShutdownCommand     string          `toml:"shutdown_command"`
	RebootCommand       string          `toml:"reboot_command"`
	Bluetooth           BluetoothConfig `toml:"bluetooth"`
}

// BluetoothConfig configures the preferred audio sink.
type BluetoothConfig struct {
	PreferredMAC string `toml:"preferred_mac"`
	ScanSeconds  int    `toml:"scan_seconds"`
}

// TriggersConfig configures the trigger dispatcher.
type TriggersConfig struct {
	Enabled bool         `toml:"enabled"`
	Sources []string     `toml:"sources"`
	Source  string       `toml:"source"` // legacy single-source key
	GPIO    GPIOConfig   `toml:"gpio"`
	ArtNet  ArtNetConfig `toml:"artnet"`
	SACN    SACNConfig   `toml:"sacn"`
}

// ActiveSources resolves the configured source list, honouring the legacy
// single-source key when the list is absent.
func (t TriggersConfig) ActiveSources() []string {
	if len(t.Sources) > 0 {
		return t.Sources
	}
	if t.Source != "" {
		return []string{t.Source}
	}
	return []string{"gpio"}
}

// GPIOConfig configures the digital-input listener.
type GPIOConfig struct {
	Chip       string `toml:"chip"`
	Pin        int    `toml:"pin"`
	Pull       string `toml:"pull"`
	Edge       string `toml:"edge"`
	DebounceMS int    `toml:"debounce_ms"`
}

// ArtNetConfig configures the Art-Net UDP listener.
type ArtNetConfig struct {
	ListenHost string `toml:"listen_host"`
	Port       int    `toml:"port"`
	Universe   int    `toml:"universe"`
	Channel    int    `toml:"channel"`
	Threshold  int    `toml:"threshold"`
}

// SACNConfig configures the sACN/E1.31 receiver.
type SACNConfig struct {
	Universe  int `toml:"universe"`
	Channel   int `toml:"channel"`
	Threshold int `toml:"threshold"`
}

// WebAPIConfig configures the HTTP control surface.
type WebAPIConfig struct {
	Enabled     bool   `toml:"enabled"`
	Listen      string `toml:"listen"`
	MaxUploadMB int64  `toml:"max_upload_mb"`
}

// FeedSyncConfig configures remote media ingestion.
type FeedSyncConfig struct {
	Enabled        bool         `toml:"enabled"`
	NodeID         string       `toml:"node_id"`
	RefreshMinutes int          `toml:"refresh_minutes"`
	TimeoutSeconds int          `toml:"timeout_seconds"`
	Feeds          []FeedConfig `toml:"feeds"`
}

// FeedConfig is one remote feed mapped to a media category.
type FeedConfig struct {
	URL      string `toml:"url"`
	Category string `toml:"category"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
}

// DefaultConfig returns the documented fallback configuration. LoadConfig
// decodes over it, so file keys override and missing keys keep these values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Identity:  "sbd",
			TopicBase: "sb/v1",
			LogLevel:  "info",
			LogFormat: "console",
			LogOutput: "stderr",
		},
		Media: MediaConfig{
			Root: "/var/lib/sb/media",
		},
		Modules: ModulesConfig{
			Player: PlayerConfig{
				Enabled:             true,
				Engine:              "mpv",
				IdleToRandomSeconds: 60,
				PublishState:        true,
				MPVBinary:           "mpv",
				GSTPipeline:         `playbin uri="{url}"`,
				Bluetooth:           BluetoothConfig{ScanSeconds: 8},
			},
			Triggers: TriggersConfig{
				Enabled: true,
				GPIO: GPIOConfig{
					Chip:       "gpiochip0",
					Pin:        17,
					Pull:       "up",
					Edge:       "falling",
					DebounceMS: 50,
				},
				ArtNet: ArtNetConfig{
					ListenHost: "0.0.0.0",
					Port:       6454,
					Universe:   0,
					Channel:    1,
					Threshold:  128,
				},
				SACN: SACNConfig{
					Universe:  1,
					Channel:   1,
					Threshold: 128,
				},
			},
			WebAPI: WebAPIConfig{
				Enabled:     true,
				Listen:      ":8080",
				MaxUploadMB: 512,
			},
			FeedSync: FeedSyncConfig{
				RefreshMinutes: 360,
				TimeoutSeconds: 30,
			},
			EmbeddedMQTT: EmbeddedMQTTConfig{
				Listen:         ":1883",
				AllowAnonymous: true,
			},
		},
	}
}

// LoadConfig loads a config file from path over DefaultConfig. A broken or
// unreadable file never leaves the caller without a usable config: the
// defaults are returned alongside the error so startup can log and proceed.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return cfg, err
	}
	if info.IsDir() {
		return cfg, errors.New("config path is a directory")
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sb", "sbd.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sb", "sbd.toml"), nil
}
