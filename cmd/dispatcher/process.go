package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnibridge/dispatch/internal/config"
	"github.com/omnibridge/dispatch/internal/notification"
	"github.com/omnibridge/dispatch/pkg/database"
	"github.com/omnibridge/dispatch/pkg/observability"
)

var (
	processLimit  int
	processUrgent bool
)

var processCmd = &cobra.Command{
	Use:   "process <tenant-id>",
	Short: "Run a single dispatch pass for one tenant and print the summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger := observability.NewLogger("dispatcher")

		db, err := database.Connect(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		store := notification.NewPostgresStore(db)
		senders := notification.NewSenderRegistry()
		senders.Register(notification.NewEmailSender(os.Getenv("RESEND_API_KEY"), cfg.FromEmail, logger))
		senders.Register(notification.NewWebhookSender(os.Getenv("WEBHOOK_SIGNING_SECRET"), logger))
		senders.Register(notification.NewSMSSender(logger))
		senders.Register(notification.NewPushSender(logger))
		senders.Register(notification.NewInAppSender(logger))
		senders.Register(notification.NewDashboardSender(logger))

		dispatcher := notification.NewDispatcher(store, senders, nil, logger)

		limit := processLimit
		if limit <= 0 {
			limit = cfg.BatchLimit
		}

		summary, err := dispatcher.ProcessTenant(cmd.Context(), args[0], limit, processUrgent)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	processCmd.Flags().IntVar(&processLimit, "limit", 0, "max notifications to process (default: batch limit)")
	processCmd.Flags().BoolVar(&processUrgent, "urgent", false, "process only urgent notifications")
}
