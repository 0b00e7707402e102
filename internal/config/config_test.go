package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "SEPARATE_STREAMS_RECORDER_", EnvPrefix("separate-streams-recorder"))
	assert.Equal(t, "MY_APP_", EnvPrefix("my app"))
}

func TestDefaults(t *testing.T) {
	cfg := (&Config{App: App{Name: "separate-streams-recorder"}}).GetDefaults()

	assert.Equal(t, 5, cfg.Recorder.WriteThreshold)
	assert.Equal(t, 40*time.Millisecond, cfg.Recorder.FlushInterval)
	assert.Equal(t, "clamp", cfg.Recorder.AudioGapPolicy)
	assert.Equal(t, 6*time.Hour, cfg.Recorder.MaxGap)
	assert.Equal(t, "to-separate-streams-recorder", cfg.PubSub.Channels.Subscribe)
	assert.Equal(t, "from-separate-streams-recorder", cfg.PubSub.Channels.Publish)
	require.Contains(t, cfg.PubSub.Adapters, "redis")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(cfg *Config) {}},
		{name: "empty directory", mutate: func(cfg *Config) { cfg.Recorder.Directory = "" }, wantErr: true},
		{name: "zero threshold", mutate: func(cfg *Config) { cfg.Recorder.WriteThreshold = 0 }, wantErr: true},
		{name: "zero interval", mutate: func(cfg *Config) { cfg.Recorder.FlushInterval = 0 }, wantErr: true},
		{name: "zero max gap", mutate: func(cfg *Config) { cfg.Recorder.MaxGap = 0 }, wantErr: true},
		{name: "trust-order", mutate: func(cfg *Config) { cfg.Recorder.AudioGapPolicy = "trust-order" }},
		{name: "unknown policy", mutate: func(cfg *Config) { cfg.Recorder.AudioGapPolicy = "sometimes" }, wantErr: true},
		{name: "valid secret", mutate: func(cfg *Config) { cfg.Recall.VerificationSecret = "whsec_c2VjcmV0" }},
		{name: "bad secret", mutate: func(cfg *Config) { cfg.Recall.VerificationSecret = "secret" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := (&Config{App: App{Name: "test"}}).GetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
