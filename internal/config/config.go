package config

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

type App struct {
	Name       string
	Version    string
	GitHash    string
	LongName   string
	InstanceId string
}

type Config struct {
	App        App        `yaml:"-"`
	Debug      bool       `yaml:"debug,omitempty"`
	Recorder   Recorder   `yaml:"recorder,omitempty"`
	Encoder    Encoder    `yaml:"encoder,omitempty"`
	Recall     Recall     `yaml:"recall,omitempty"`
	PubSub     PubSub     `yaml:"pubsub,omitempty"`
	HTTP       HTTP       `yaml:"http,omitempty"`
	Prometheus Prometheus `yaml:"prometheus,omitempty"`
	Log        LogConfig  `yaml:"log"`
}

func (cfg *Config) GetDefaults() *Config {
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets the default values
func (cfg *Config) SetDefaults() {
	if cfg.App.Name == "" {
		var err error
		if cfg.App.Name, err = os.Executable(); err != nil {
			log.Error(err)
			cfg.App.Name = "unknown"
		}
	}

	cfg.Recorder = Recorder{
		Directory:      "output",
		DirFileMode:    "0755",
		FileMode:       "0644",
		WriteThreshold: 5,
		FlushInterval:  40 * time.Millisecond,
		AudioGapPolicy: "clamp",
		MaxGap:         6 * time.Hour,
		WriteRawAudio:  false,
		WriteSnapshots: false,
		WriteStatsFile: false,
	}
	cfg.Encoder = Encoder{
		FFmpegPath:   "ffmpeg",
		CloseTimeout: 30 * time.Second,
		LogLevel:     "error",
	}
	cfg.PubSub.Enable = false
	cfg.PubSub.Channels = Channels{
		Subscribe: "to-" + cfg.App.Name,
		Publish:   "from-" + cfg.App.Name,
	}
	cfg.PubSub.Adapter = "redis"
	cfg.PubSub.Adapters = make(map[string]interface{})
	cfg.PubSub.Adapters["redis"] = &Redis{
		Address:  ":6379",
		Network:  "tcp",
		Password: "",
	}
	cfg.HTTP = HTTP{
		ListenAddress:      "0.0.0.0:4000",
		WebSocketPath:      "/ws",
		WebhookPath:        "/webhook",
		WebhookIdleTimeout: 30 * time.Second,
		ReadBufferSize:     64 * 1024,
		MaxMessageSize:     16 * 1024 * 1024,
	}
	cfg.Prometheus = Prometheus{
		Enable:        false,
		ListenAddress: "127.0.0.1:3200",
	}
}

type Recorder struct {
	Directory      string        `yaml:"directory,omitempty"`
	DirFileMode    string        `yaml:"dirFileMode,omitempty"`
	FileMode       string        `yaml:"fileMode,omitempty"`
	WriteThreshold int           `yaml:"writeThreshold,omitempty"`
	FlushInterval  time.Duration `yaml:"flushInterval,omitempty"`
	// AudioGapPolicy is "clamp" or "trust-order".
	AudioGapPolicy string `yaml:"audioGapPolicy,omitempty"`
	// MaxGap bounds the padding inserted before one chunk.
	MaxGap         time.Duration `yaml:"maxGap,omitempty"`
	WriteRawAudio  bool          `yaml:"writeRawAudio,omitempty"`
	WriteSnapshots bool          `yaml:"writeSnapshots,omitempty"`
	WriteStatsFile bool          `yaml:"writeStatsFile,omitempty"`
}

type Encoder struct {
	FFmpegPath   string        `yaml:"ffmpegPath,omitempty"`
	CloseTimeout time.Duration `yaml:"closeTimeout,omitempty"`
	LogLevel     string        `yaml:"logLevel,omitempty"`
}

type Recall struct {
	// VerificationSecret is the workspace secret (whsec_...). Verification
	// is disabled when empty.
	VerificationSecret string `yaml:"verificationSecret,omitempty"`
}

type Redis struct {
	Address  string `yaml:"address,omitempty"`
	Network  string `yaml:"network,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type PubSub struct {
	Enable   bool     `yaml:"enable,omitempty"`
	Channels Channels `yaml:"channels,omitempty"`
	Adapter  string   `yaml:"adapter,omitempty"`
	Adapters map[string]interface{}
}

type Channels struct {
	Subscribe string `yaml:"subscribe,omitempty"`
	Publish   string `yaml:"publish,omitempty"`
}

type HTTP struct {
	ListenAddress      string        `yaml:"listenAddress,omitempty"`
	WebSocketPath      string        `yaml:"webSocketPath,omitempty"`
	WebhookPath        string        `yaml:"webhookPath,omitempty"`
	WebhookIdleTimeout time.Duration `yaml:"webhookIdleTimeout,omitempty"`
	ReadBufferSize     int           `yaml:"readBufferSize,omitempty"`
	MaxMessageSize     int64         `yaml:"maxMessageSize,omitempty"`
}

type Prometheus struct {
	Enable        bool   `yaml:"enable,omitempty"`
	ListenAddress string `yaml:"listenAddress,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}
