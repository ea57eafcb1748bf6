package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/splice_box/internal/adapters/mqttclient"
	embeddedmqtt "github.com/mikey-austin/splice_box/internal/modules/embedded_mqtt"
	feedsync "github.com/mikey-austin/splice_box/internal/modules/feed_sync"
	"github.com/mikey-austin/splice_box/internal/modules/player"
	"github.com/mikey-austin/splice_box/internal/modules/triggers"
	webapi "github.com/mikey-austin/splice_box/internal/modules/web_api"
	"github.com/mikey-austin/splice_box/internal/sbd"
	"github.com/mikey-austin/splice_box/pkg/sbx"
)

func main() {
	var (
		configPath  string
		broker      string
		identity    string
		topicBase   string
		mediaRoot   string
		logLevel    string
		logFormat   string
		logOutput   string
		moduleOnly  string
		printConfig bool
		dryRun      bool
	)

	defaultConfig, err := sbd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&identity, "identity", "", "server identity override")
	flag.StringVar(&topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&mediaRoot, "media-root", "", "media root override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (console|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr|path)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := sbd.LoadConfig(configPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config %s: %v (continuing with defaults)\n", configPath, err)
	}
	applyOverrides(&cfg, broker, identity, topicBase, mediaRoot, logLevel, logFormat, logOutput)

	if printConfig {
		printResolvedConfig(cfg)
		return
	}
	if dryRun {
		return
	}

	logger := sbd.NewLogger(sbd.LogConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: cfg.Server.LogOutput,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	skipEmbedded := false
	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedBrokerURL(cfg) {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			logger.Error("embedded mqtt failed", zap.Error(err))
			os.Exit(1)
		}
		skipEmbedded = true
	}

	if cfg.Server.Broker == "" && !(moduleOnly == "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled) {
		logger.Error("broker is required")
		os.Exit(1)
	}
	logger.Info("sbd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("media_root", cfg.Media.Root),
		zap.Strings("modules", enabledModules(cfg)),
	)

	var client *mqttclient.Client
	if moduleOnly != "embedded_mqtt" {
		var err error
		client, err = mqttclient.NewClient(mqttclient.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  fmt.Sprintf("sbd-%d", time.Now().UnixNano()),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLSCA:     cfg.Server.TLS.CA,
			TLSCert:   cfg.Server.TLS.Cert,
			TLSKey:    cfg.Server.TLS.Key,
			Timeout:   2 * time.Second,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("mqtt connection failed", zap.Error(err))
			os.Exit(1)
		}
	}

	modules, err := buildModules(cfg, client, logger, configPath, moduleOnly, skipEmbedded)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}

	supervisor := sbd.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *sbd.Config, broker string, identity string, topicBase string, mediaRoot string, logLevel string, logFormat string, logOutput string) {
	if broker != "" {
		cfg.Server.Broker = broker
	}
	if identity != "" {
		cfg.Server.Identity = identity
	}
	if topicBase != "" {
		cfg.Server.TopicBase = topicBase
	}
	if mediaRoot != "" {
		cfg.Media.Root = mediaRoot
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Server.LogFormat = logFormat
	}
	if logOutput != "" {
		cfg.Server.LogOutput = logOutput
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = sbx.BaseTopic
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
}

func buildModules(cfg sbd.Config, client *mqttclient.Client, logger *zap.Logger, configPath string, moduleOnly string, skipEmbedded bool) ([]sbd.ModuleRunner, error) {
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}

	modules := []sbd.ModuleRunner{}
	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded {
		if moduleOnly == "" || moduleOnly == "embedded_mqtt" {
			mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
				Listen:         cfg.Modules.EmbeddedMQTT.Listen,
				AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
				Username:       cfg.Modules.EmbeddedMQTT.Username,
				Password:       cfg.Modules.EmbeddedMQTT.Password,
			})
			if err != nil {
				return nil, err
			}
			modules = append(modules, sbd.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
		}
	}

	var playerMod *player.Module
	if cfg.Modules.Player.Enabled {
		if moduleOnly == "" || moduleOnly == "player" {
			nodeID := cfg.Modules.Player.NodeID
			if nodeID == "" {
				nodeID = fmt.Sprintf("sb:player:%s", host)
			}

			playerCfg := player.Config{
				NodeID:              nodeID,
				TopicBase:           cfg.Server.TopicBase,
				MediaRoot:           cfg.Media.Root,
				QueuePath:           cfg.Media.QueueFile(),
				Engine:              cfg.Modules.Player.Engine,
				IdleToRandomSeconds: cfg.Modules.Player.IdleToRandomSeconds,
				PublishState:        cfg.Modules.Player.PublishState,
				AudioDevice:         cfg.Modules.Player.AudioOutputDevice,
				MPVBinary:           cfg.Modules.Player.MPVBinary,
				MPVSocket:           cfg.Modules.Player.MPVSocket,
				MPVExtraArgs:        cfg.Modules.Player.MPVExtraArgs,
				GSTPipeline:         cfg.Modules.Player.GSTPipeline,
				BluetoothMAC:        cfg.Modules.Player.Bluetooth.PreferredMAC,
				DailyShutdownTime:   cfg.Modules.Player.DailyShutdownTime,
				ShutdownCommand:     cfg.Modules.Player.ShutdownCommand,
				ReloadThreshold: func() (int64, error) {
					fresh, err := sbd.LoadConfig(configPath)
					if err != nil {
						return 0, err
					}
					return fresh.Modules.Player.IdleToRandomSeconds, nil
				},
			}
			if cfg.Modules.Triggers.Enabled {
				playerCfg.TriggerSources = cfg.Modules.Triggers.ActiveSources()
				playerCfg.GPIO = triggers.GPIOOptions{
					Chip:       cfg.Modules.Triggers.GPIO.Chip,
					Pin:        cfg.Modules.Triggers.GPIO.Pin,
					Pull:       cfg.Modules.Triggers.GPIO.Pull,
					Edge:       cfg.Modules.Triggers.GPIO.Edge,
					DebounceMS: cfg.Modules.Triggers.GPIO.DebounceMS,
				}
				playerCfg.ArtNet = triggers.ArtNetOptions{
					ListenHost: cfg.Modules.Triggers.ArtNet.ListenHost,
					Port:       cfg.Modules.Triggers.ArtNet.Port,
					Universe:   cfg.Modules.Triggers.ArtNet.Universe,
					Channel:    cfg.Modules.Triggers.ArtNet.Channel,
					Threshold:  cfg.Modules.Triggers.ArtNet.Threshold,
				}
				playerCfg.SACN = triggers.SACNOptions{
					Universe:  cfg.Modules.Triggers.SACN.Universe,
					Channel:   cfg.Modules.Triggers.SACN.Channel,
					Threshold: cfg.Modules.Triggers.SACN.Threshold,
				}
			}

			mod, err := player.NewModule(logger.With(zap.String("module", "player")), client, playerCfg)
			if err != nil {
				// A box without its engine installed still serves feeds and
				// the web API.
				logger.Error("player module disabled", zap.Error(err))
			} else {
				playerMod = mod
				modules = append(modules, sbd.ModuleRunner{Name: "player", Run: mod.Run})
			}
		}
	}

	if cfg.Modules.WebAPI.Enabled {
		if moduleOnly == "" || moduleOnly == "web_api" {
			if playerMod == nil {
				logger.Warn("web_api requires the player module; skipping")
			} else {
				mod, err := webapi.NewModule(logger.With(zap.String("module", "web_api")), playerMod, webapi.Config{
					Listen:          cfg.Modules.WebAPI.Listen,
					MaxUploadMB:     cfg.Modules.WebAPI.MaxUploadMB,
					MediaRoot:       cfg.Media.Root,
					ShutdownCommand: cfg.Modules.Player.ShutdownCommand,
					RebootCommand:   cfg.Modules.Player.RebootCommand,
				})
				if err != nil {
					return nil, err
				}
				modules = append(modules, sbd.ModuleRunner{Name: "web_api", Run: mod.Run})
			}
		}
	}

	if cfg.Modules.FeedSync.Enabled {
		if moduleOnly == "" || moduleOnly == "feed_sync" {
			nodeID := cfg.Modules.FeedSync.NodeID
			if nodeID == "" {
				nodeID = fmt.Sprintf("sb:feeds:%s", host)
			}
			feeds := make([]feedsync.Feed, 0, len(cfg.Modules.FeedSync.Feeds))
			for _, feed := range cfg.Modules.FeedSync.Feeds {
				feeds = append(feeds, feedsync.Feed{URL: feed.URL, Category: feed.Category})
			}

			mod, err := feedsync.NewModule(logger.With(zap.String("module", "feed_sync")), client, feedsync.Config{
				NodeID:    nodeID,
				TopicBase: cfg.Server.TopicBase,
				MediaRoot: cfg.Media.Root,
				Feeds:     feeds,
				Refresh:   time.Duration(cfg.Modules.FeedSync.RefreshMinutes) * time.Minute,
				Timeout:   time.Duration(cfg.Modules.FeedSync.TimeoutSeconds) * time.Second,
			})
			if err != nil {
				return nil, err
			}
			modules = append(modules, sbd.ModuleRunner{Name: "feed_sync", Run: mod.Run})
		}
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func enabledModules(cfg sbd.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	if cfg.Modules.Player.Enabled {
		out = append(out, "player")
	}
	if cfg.Modules.Triggers.Enabled {
		out = append(out, "triggers")
	}
	if cfg.Modules.WebAPI.Enabled {
		out = append(out, "web_api")
	}
	if cfg.Modules.FeedSync.Enabled {
		out = append(out, "feed_sync")
	}
	return out
}

func printResolvedConfig(cfg sbd.Config) {
	fmt.Fprintf(os.Stdout,
		"broker=%s identity=%s topic_base=%s media_root=%s log_level=%s log_format=%s log_output=%s modules=%s\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Media.Root,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		strings.Join(enabledModules(cfg), ","),
	)
}

func embeddedBrokerURL(cfg sbd.Config) string {
	listen := cfg.Modules.EmbeddedMQTT.Listen
	if listen == "" {
		listen = ":1883"
	}
	return embeddedmqtt.BrokerURL(listen)
}

func startEmbeddedBroker(ctx context.Context, cfg sbd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
		Listen:         cfg.Modules.EmbeddedMQTT.Listen,
		AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.Modules.EmbeddedMQTT.Username,
		Password:       cfg.Modules.EmbeddedMQTT.Password,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := mod.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()

	listen := cfg.Modules.EmbeddedMQTT.Listen
	if listen == "" {
		listen = ":1883"
	}
	return embeddedmqtt.WaitReady(listen, 3*time.Second)
}
