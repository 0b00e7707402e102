package app

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/recallai/separate-streams-recorder/internal"
	"github.com/recallai/separate-streams-recorder/internal/config"
	log "github.com/sirupsen/logrus"
)

func configureLog(cfg *config.Config) {
	log.SetOutput(os.Stdout)

	if isTty() {
		log.SetFormatter(&log.TextFormatter{
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := path.Base(f.File)
				return fmt.Sprintf("%s:%d", filename, f.Line),
					fmt.Sprintf("> %s()", strings.Replace(f.Function, internal.ModName, ".", 1))
			},
			FullTimestamp: true,
		})
	} else {
		log.SetFormatter(&log.JSONFormatter{CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return fmt.Sprintf("%s()", strings.Replace(f.Function, internal.ModName, ".", 1)),
				fmt.Sprintf("%s:%d", f.File, f.Line)
		}})
	}

	level := log.InfoLevel
	if cfg.Log.Level != "" {
		if l, err := log.ParseLevel(cfg.Log.Level); err != nil {
			log.Warnf("invalid log level %q, using %s", cfg.Log.Level, level)
		} else {
			level = l
		}
	}

	if flags.debug || cfg.Debug {
		if level < log.DebugLevel {
			level = log.DebugLevel
		}
		log.SetReportCaller(true)
	} else {
		log.SetReportCaller(false)
	}

	if log.GetLevel() != level {
		log.SetLevel(level)
		log.Debugf("log level set to %s", level)
	}
}

func isTty() bool {
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) != 0 {
		return true
	}
	return false
}
