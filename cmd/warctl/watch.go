package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/CarlosSalas01/SistemaDeReplicas/pkg/api/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow request changes in real time",
	Long: `Open a realtime channel and print request changes as they happen.

The full request set is refetched after every reconnect and every
--refresh interval, so the printed state converges on the server's even
when events are missed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetDuration("refresh")
		verbose, _ := cmd.Flags().GetBool("verbose")

		level := slog.LevelError
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		out := cmd.OutOrStdout()

		syncer := apiclient.NewSyncer(cli, token,
			apiclient.WithSyncLogger(logger),
			apiclient.WithRefreshInterval(refresh),
			apiclient.WithEventHandler(func(f apiclient.Frame) { printFrame(out, f) }),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			var synced time.Time
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if last := syncer.LastSynced(); last.After(synced) {
						synced = last
						fmt.Fprintf(out, "\n[%s] synced %d requests\n", last.Local().Format("15:04:05"), len(syncer.Snapshot()))
						for _, r := range syncer.Snapshot() {
							fmt.Fprintf(out, "  #%d %-20s %-10s %s\n", r.ID, r.ApplicationName, r.Status, r.FileName)
						}
					}
					if err := syncer.LastError(); err != nil && verbose {
						fmt.Fprintf(cmd.ErrOrStderr(), "sync error: %v\n", err)
					}
				}
			}
		}()

		err = syncer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().Duration("refresh", 2*time.Minute, "Full refetch interval (0 disables)")
	watchCmd.Flags().BoolP("verbose", "v", false, "Log reconnects and refetch failures")
}

func printFrame(w io.Writer, f apiclient.Frame) {
	ts := time.Now().Format("15:04:05")
	switch f.Event {
	case apiclient.EventRequestStatusUpdate:
		var msg apiclient.StatusUpdate
		if json.Unmarshal(f.Data, &msg) == nil {
			fmt.Fprintf(w, "[%s] #%d %s: %s\n", ts, msg.Data.RequestID, msg.Data.Status, msg.Message)
		}
	case apiclient.EventNewRequest:
		var msg apiclient.NewRequest
		if json.Unmarshal(f.Data, &msg) == nil {
			fmt.Fprintf(w, "[%s] #%d new: %s\n", ts, msg.Data.ID, msg.Message)
		}
	case apiclient.EventSystemActivity:
		var msg apiclient.SystemActivity
		if json.Unmarshal(f.Data, &msg) == nil {
			fmt.Fprintf(w, "[%s] %s: %s\n", ts, msg.EventType, msg.Message)
		}
	case apiclient.EventAdminStats:
		var msg apiclient.AdminStats
		if json.Unmarshal(f.Data, &msg) == nil {
			fmt.Fprintf(w, "[%s] %d users and %d admins online, %d pending\n", ts, msg.ConnectedUsers, msg.ConnectedAdmins, msg.PendingRequests)
		}
	}
}
