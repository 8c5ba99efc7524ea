package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/osakana/kintai-bot/internal/attendance"
	"github.com/osakana/kintai-bot/internal/bitable"
	"github.com/osakana/kintai-bot/internal/config"
	"github.com/osakana/kintai-bot/internal/journal"
	"github.com/osakana/kintai-bot/internal/line"
	"github.com/osakana/kintai-bot/internal/notify"
	"github.com/osakana/kintai-bot/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "kintai",
		Short: "Attendance recorder bridging LINE and a Lark Bitable day ledger",
	}
	root.AddCommand(newServeCmd(), newHistoryCmd())
	return root.Execute()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and record API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			var observer bitable.Observer = bitable.NoopObserver{}
			if cfg.LarkLogCalls {
				observer = bitable.NewLogObserver(os.Stderr)
			}
			table := bitable.NewClient(cfg.Lark, observer)
			svc := attendance.NewService(table, cfg.DayOffset)
			lineClient := line.NewClient(cfg.Line)

			var notifier notify.Notifier
			switch cfg.Notify.Driver {
			case "line":
				notifier = notify.NewLineNotifier(lineClient)
			case "mail":
				notifier = notify.NewMailNotifier(cfg.Notify.Mail)
			default:
				notifier = notify.Noop{}
			}

			// The journal is an operational trace; running without one
			// is fine.
			var jnl server.Journal
			if store, err := journal.Open(cfg.JournalPath); err != nil {
				log.Printf("journal disabled: %v", err)
			} else {
				defer store.Close()
				jnl = store
			}

			srv := server.New(svc, lineClient, notifier, jnl, cfg.BreakTimeURL)
			log.Printf("listening on %s", cfg.Addr)
			return srv.Router().Run(cfg.Addr)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reconciliation journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := dbPath
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("loading configuration: %w", err)
				}
				path = cfg.JournalPath
			}

			store, err := journal.Open(path)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer store.Close()

			entries, err := store.Recent(context.Background(), limit)
			if err != nil {
				return fmt.Errorf("reading journal: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("no journal entries")
				return nil
			}

			for _, e := range entries {
				fmt.Printf("%s  %-9s %-7s user=%s day=%s record=%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Action, e.Outcome, e.UserID,
					e.DayStart.Format("2006-01-02"), e.RecordID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().StringVar(&dbPath, "db", "", "Journal database path (default from configuration)")

	return cmd
}
