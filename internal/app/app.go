package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/recallai/separate-streams-recorder/internal"
	"github.com/recallai/separate-streams-recorder/internal/appstats"
	"github.com/recallai/separate-streams-recorder/internal/config"
	"github.com/recallai/separate-streams-recorder/internal/pubsub"
	"github.com/recallai/separate-streams-recorder/internal/recorder"
	"github.com/recallai/separate-streams-recorder/internal/server"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	app config.App

	flags struct {
		config  string
		dump    string
		debug   bool
		help    bool
		version bool
	}

	// cfg is the boot configuration; reloads go to the server only
	cfg *config.Config
	ps  pubsub.PubSub
	sv  *server.Server
)

// Main parses flags, loads the configuration and serves until a signal
// arrives.
func Main() {
	app.Name = internal.AppName
	app.Version = internal.AppVersion
	app.LongName = fmt.Sprintf("%s %s", app.Name, app.Version)
	app.InstanceId = uuid.New().String()

	flag.StringVarP(&flags.config, "config", "c", flags.config, "load configuration file")
	flag.StringVar(&flags.dump, "dump", "", "print config value (e.g. 'recorder.directory' or 'all')")
	flag.BoolVarP(&flags.debug, "debug", "d", flags.debug, "enable debug log")
	flag.BoolVarP(&flags.help, "help", "h", flags.help, "print help")
	flag.BoolVarP(&flags.version, "version", "v", flags.version, "print version")
	flag.Parse()

	if flags.help {
		fmt.Printf("%s\n\n", app.LongName)
		flag.PrintDefaults()
		os.Exit(0)
	}

	if flags.version {
		fmt.Println(app.LongName)
		os.Exit(0)
	}

	if flags.dump != "" {
		log.SetLevel(log.FatalLevel)
		dumpConfig(loadConfig())
	}

	Init()
	Run()
}

func Init() {
	log.Infof("Starting %s PID: %d", app.LongName, os.Getpid())
	cfg = loadConfig()
	configureLog(cfg)
	debugConfig(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %s", err)
	}
}

func Run() {
	appstats.Init()
	appstats.ServePromMetrics(cfg.Prometheus)

	if err := recorder.EnsureDirectory(cfg.Recorder); err != nil {
		log.Fatalf("failed to create recorder directory: %v", err)
	}
	if err := recorder.CheckFsPermissions(cfg.Recorder); err != nil {
		log.Fatalf("failed to check recorder filesystem permissions: %v", err)
	}

	if bin, err := recorder.CheckEncoder(cfg.Encoder); err != nil {
		log.Warnf("encoder preflight failed, pipelines will not open: %v", err)
	} else {
		log.WithField("path", bin).Debug("ffmpeg found")
	}

	if cfg.PubSub.Enable {
		var err error
		if ps, err = pubsub.NewPubSub(cfg.PubSub); err != nil {
			log.Fatalf("failed to create pubsub: %v", err)
		}
		if err := ps.Check(); err != nil {
			log.Fatalf("failed to connect to pubsub: %v", err)
		}
	}

	var err error
	if sv, err = server.NewServer(cfg, ps, recorder.NewFFmpegEncoderFactory(cfg.Encoder)); err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	if ps != nil {
		channel := cfg.PubSub.Channels.Subscribe
		go func() {
			if err := ps.Subscribe(channel, sv.HandlePubSub, sv.OnStart); err != nil {
				log.Errorf("failed to subscribe to pubsub %s: %s", channel, err)
			}
		}()
	}

	sigintHandler()
	sighupHandler()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("failed to notify readiness to systemd: %v", err)
	}

	if err := sv.Serve(); err != nil {
		log.Fatalf("http server failed: %s", err)
	}
	// Serve returns once shutdown has closed the listener
	select {}
}

func shutdown(code int) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Debugf("failed to notify stopping to systemd: %v", err)
	}

	if sv != nil {
		sv.Close()
	}

	if ps != nil {
		if err := ps.Close(); err != nil {
			log.Errorf("failed to close pubsub: %s", err)
		}
	}

	log.Info("shutdown complete")
	os.Exit(code)
}

func sighupHandler() {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Debug("reloading config...")
			newCfg := loadConfig()
			if err := sv.Reload(newCfg); err != nil {
				log.Errorf("keeping current configuration: %s", err)
				continue
			}
			configureLog(newCfg)
		}
	}()
}

func sigintHandler() {
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigint
		log.Infof("received %s, finalizing recordings", sig)
		shutdown(0)
	}()
}
