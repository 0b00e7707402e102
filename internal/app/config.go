package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kr/pretty"
	"github.com/recallai/separate-streams-recorder/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func initConfig() *config.Config {
	return (&config.Config{App: app}).GetDefaults()
}

// loadConfig returns a fresh config; it never mutates one already in use.
func loadConfig() *config.Config {
	newCfg := initConfig()
	newCfg.Load(app.Name, flags.config)
	return newCfg
}

func debugConfig(cfg *config.Config) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	redacted := *cfg
	if redacted.Recall.VerificationSecret != "" {
		redacted.Recall.VerificationSecret = "whsec_***"
	}
	log.Debugf("configuration: %# v", pretty.Formatter(redacted))
}

// dumpConfig prints one dotted config path, or the whole config for "all",
// and exits.
func dumpConfig(cfg *config.Config) {
	var v interface{}
	y, _ := yaml.Marshal(cfg)

	if err := yaml.Unmarshal(y, &v); err != nil {
		log.Fatalf("failed to unmarshal config: %s", err)
	}

	if flags.dump != "all" {
		v = lookup(v, strings.Split(flags.dump, "."))
	}

	if v != nil {
		b, _ := yaml.Marshal(v)
		fmt.Print(string(b))
		os.Exit(0)
	}
	os.Exit(1)
}

func lookup(v interface{}, path []string) interface{} {
	for _, a := range path {
		switch t := v.(type) {
		case []interface{}:
			i, err := strconv.Atoi(a)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			v = t[i]
		case map[string]interface{}:
			var ok bool
			if v, ok = t[a]; !ok {
				return nil
			}
		default:
			return nil
		}
	}
	return v
}
