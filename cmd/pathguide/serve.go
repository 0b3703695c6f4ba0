package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-pathguide/internal/log"
	"github.com/teslashibe/go-pathguide/pkg/alert"
	"github.com/teslashibe/go-pathguide/pkg/companion"
	"github.com/teslashibe/go-pathguide/pkg/hub"
	"github.com/teslashibe/go-pathguide/pkg/narration"
	"github.com/teslashibe/go-pathguide/pkg/pipeline"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/stream"
	"github.com/teslashibe/go-pathguide/pkg/video"
	"github.com/teslashibe/go-pathguide/pkg/web"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var noPace bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the guidance web service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if noPace {
				cfg.Video.Pace = false
			}

			logger := log.L()
			initial, err := cfg.Settings()
			if err != nil {
				return err
			}
			mgr := settings.NewManager(initial)

			events := hub.New("events", logger)
			mgr.OnChange = func(s settings.Settings) {
				events.Publish(hub.EventSettings, s)
			}

			detector, err := newDetector(cfg, logger)
			if err != nil {
				return err
			}
			defer detector.Close()

			provider, err := newProvider(cfg, logger)
			if err != nil {
				return fmt.Errorf("narration client: %w", err)
			}
			defer provider.Close()

			speaker, err := newSpeaker(cfg, logger)
			if err != nil {
				return err
			}

			live := narration.NewLiveText("")
			dispatcher, err := newDispatcher(cfg, provider, speaker, mgr, live, logger, func(n narration.Narration) {
				events.Publish(hub.EventNarration, n)
			})
			if err != nil {
				return err
			}
			defer dispatcher.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			checkCtx, cancel := context.WithTimeout(sigCtx, 3*time.Second)
			if err := provider.Health(checkCtx); err != nil {
				logger.Warn("narration backend unreachable, alerts will be dropped until it is up",
					"base_url", cfg.Narration.BaseURL, "error", err)
			}
			cancel()

			var bridge *companion.Bridge
			if cfg.Companion.Enabled {
				cc := companion.DefaultConfig()
				cc.Broker = cfg.Companion.Broker
				cc.ClientID = cfg.Companion.ClientID
				cc.Username = cfg.Companion.Username
				cc.Password = cfg.Companion.Password
				cc.MessageTopic = cfg.Companion.MessageTopic
				cc.AlertTopic = cfg.Companion.AlertTopic
				cc.QoS = byte(cfg.Companion.QoS)
				cc.Logger = logger

				bridge = companion.New(cc, dispatcher)
				if err := bridge.Connect(sigCtx); err != nil {
					logger.Warn("companion broker unavailable, retrying in background", "error", err)
				}
				defer bridge.Close()
			}

			source := video.NewSource(video.WithLogger(logger))
			frames := stream.NewMultiplexer(stream.WithLogger(logger))

			runner, err := pipeline.New(pipeline.Config{
				Source:     source,
				Detector:   detector,
				Settings:   mgr,
				Dispatcher: dispatcher,
				Viewer:     frames,
				Pace:       cfg.Video.Pace,
				Logger:     logger,
				OnSession: func(ev pipeline.SessionEvent) {
					events.Publish(hub.EventSession, ev)
				},
				OnAlert: func(ev alert.Event) {
					events.Publish(hub.EventAlert, ev)
					if bridge != nil {
						go func() {
							if err := bridge.PublishAlert(ev); err != nil {
								logger.Debug("alert not forwarded to companion", "event", ev.ID, "error", err)
							}
						}()
					}
				},
			})
			if err != nil {
				return err
			}

			server := web.NewServer(web.Config{
				Addr:           cfg.Server.Addr,
				UploadDir:      cfg.Server.UploadDir,
				MaxUploadBytes: cfg.Server.MaxUploadBytes(),
				StaticDir:      cfg.Server.StaticDir,
				Logger:         logger,
			}, web.Deps{
				Runner:   runner,
				Prober:   source,
				Narrator: dispatcher,
				Settings: mgr,
				Frames:   frames,
				Events:   events,
			})

			go events.Run(sigCtx)
			go frames.Run(sigCtx)
			go runner.Run(sigCtx)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			logger.Info("pathguide ready",
				"addr", cfg.Server.Addr,
				"mode", initial.Mode,
				"threshold", initial.SlopeThreshold,
				"debounce", initial.Debounce(),
				"speaker", speaker.Name(),
			)

			select {
			case <-sigCtx.Done():
				logger.Info("shutting down")
			case err := <-errCh:
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("web server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("web server shutdown", "error", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&noPace, "no-pace", false, "Process uploads as fast as possible instead of in real time")
	return cmd
}
