package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/crazy-max/gonfig"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (cfg *Config) Load(app, configFile string) {
	// Load from file(s)
	if configFile == "" {
		configFile = app + ".yml"
	} else {
		configFile = path.Clean(configFile)
	}
	fileLoader := gonfig.NewFileLoader(gonfig.FileLoaderConfig{
		Filename: configFile,
		Finder: gonfig.Finder{
			BasePaths: []string{
				fmt.Sprintf("/etc/%s/%s", app, app),
				fmt.Sprintf("$HOME/.config/%s", app),
				fmt.Sprintf("./%s", app),
			},
			Extensions: []string{"yaml", "yml"},
		},
	})
	if found, err := fileLoader.Load(cfg); err != nil {
		log.Fatal(errors.Wrap(err, fmt.Sprintf("failed to decode configuration from file: %s", fileLoader.GetFilename())))
	} else if !found {
		log.Debugf("no configuration file found: %s", fileLoader.GetFilename())
	} else {
		log.Printf("configuration loaded from file: %s", fileLoader.GetFilename())
	}

	// .env values are exported before the env loader runs; real env wins
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn(errors.Wrap(err, "failed to load .env file"))
	}

	// Load from environment variables
	envLoader := gonfig.NewEnvLoader(gonfig.EnvLoaderConfig{
		Prefix: EnvPrefix(app),
	})
	if found, err := envLoader.Load(cfg); err != nil {
		log.Fatal(errors.Wrap(err, "Failed to decode configuration from environment variables"))
	} else if !found {
		log.Debugf("No %s* environment variables defined", EnvPrefix(app))
	} else {
		log.Printf("Configuration loaded from %d environment variables\n", len(envLoader.GetVars()))
	}
}

// EnvPrefix turns "separate-streams-recorder" into "SEPARATE_STREAMS_RECORDER_".
func EnvPrefix(app string) string {
	envPrefix := strings.ReplaceAll(app, " ", "_")
	return strings.ToUpper(strings.ReplaceAll(envPrefix, "-", "_")) + "_"
}

// Validate checks values that would otherwise fail deep inside the recorder.
func (cfg *Config) Validate() error {
	if cfg.Recorder.Directory == "" {
		return fmt.Errorf("recorder.directory must not be empty")
	}
	if cfg.Recorder.WriteThreshold < 1 {
		return fmt.Errorf("recorder.writeThreshold must be >= 1, got %d", cfg.Recorder.WriteThreshold)
	}
	if cfg.Recorder.FlushInterval <= 0 {
		return fmt.Errorf("recorder.flushInterval must be positive, got %s", cfg.Recorder.FlushInterval)
	}
	if cfg.Recorder.MaxGap <= 0 {
		return fmt.Errorf("recorder.maxGap must be positive, got %s", cfg.Recorder.MaxGap)
	}
	switch cfg.Recorder.AudioGapPolicy {
	case "clamp", "trust-order":
	default:
		return fmt.Errorf("invalid recorder.audioGapPolicy %q", cfg.Recorder.AudioGapPolicy)
	}
	if cfg.Recall.VerificationSecret != "" && !strings.HasPrefix(cfg.Recall.VerificationSecret, "whsec_") {
		return fmt.Errorf("recall.verificationSecret must start with whsec_")
	}
	return nil
}
