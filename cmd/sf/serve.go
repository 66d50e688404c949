package main

import (
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/zulandar/shopfloor/internal/api"
	"github.com/zulandar/shopfloor/internal/capacity"
	"github.com/zulandar/shopfloor/internal/config"
	"github.com/zulandar/shopfloor/internal/events"
	"github.com/zulandar/shopfloor/internal/lifecycle"
	"github.com/zulandar/shopfloor/internal/notify"
	"github.com/zulandar/shopfloor/internal/timeclock"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Shopfloor API server",
		Long:  "Serves the execution API, dispatches domain events to the configured sinks, and logs a periodic WIP digest per cell.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default: server.port from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter := events.NewEmitter(gormDB, 256)
	dispatcher := events.NewDispatcher(gormDB, emitter, buildSinks(cfg.Notify)...)
	go dispatcher.Run(ctx)

	// Sweep outbox rows that never reached the dispatch queue.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := dispatcher.Redeliver(ctx, 100); err != nil {
					log.Printf("serve: redeliver: %v", err)
				}
			}
		}
	}()

	schedule := cron.New()
	if _, err := schedule.AddFunc(cfg.Server.DigestCron, func() {
		logWipDigest(gormDB)
	}); err != nil {
		return err
	}
	schedule.Start()
	defer schedule.Stop()

	engine := lifecycle.New(gormDB, timeclock.NewLedger(), emitter)
	return api.Start(ctx, api.StartOpts{
		DB:     gormDB,
		Engine: engine,
		Port:   port,
		Out:    cmd.OutOrStdout(),
	})
}

// buildSinks assembles the event sinks enabled in configuration.
func buildSinks(cfg config.NotifyConfig) []events.Sink {
	var sinks []events.Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.WebhookURL, &http.Client{Timeout: 10 * time.Second}))
	}
	if cfg.Slack.BotToken != "" {
		slack, err := notify.NewSlack(notify.SlackOpts{
			BotToken: cfg.Slack.BotToken,
			Channel:  cfg.Slack.Channel,
		})
		if err != nil {
			log.Printf("serve: slack sink disabled: %v", err)
		} else {
			sinks = append(sinks, slack)
		}
	}
	if cfg.Discord.Token != "" {
		discord, err := notify.NewDiscord(notify.DiscordOpts{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
		})
		if err != nil {
			log.Printf("serve: discord sink disabled: %v", err)
		} else {
			sinks = append(sinks, discord)
		}
	}
	return sinks
}

// logWipDigest logs the current load of every active cell, flagging cells
// at or past their warning threshold.
func logWipDigest(gormDB *gorm.DB) {
	loads, err := capacity.Snapshot(gormDB)
	if err != nil {
		log.Printf("serve: wip digest: %v", err)
		return
	}
	for _, load := range loads {
		ratio := float64(load.WIP) / float64(load.Cell.WipLimit)
		if ratio >= load.Cell.WipWarningThreshold {
			log.Printf("serve: cell %s at %d/%d WIP", load.Cell.ID, load.WIP, load.Cell.WipLimit)
		}
	}
}
