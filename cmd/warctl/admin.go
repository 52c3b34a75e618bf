package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apiclient "github.com/CarlosSalas01/SistemaDeReplicas/pkg/api/client"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show request counts by status and priority (administrators)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		stats, err := cli.RequestStats(ctx, token)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), stats, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "Pending:\t%d\n", stats.PendingRequests)
			fmt.Fprintf(tw, "Submitted today:\t%d\n", stats.TodayRequests)
			fmt.Fprintln(tw)
			printCounts(tw, "STATUS", stats.ByStatus)
			fmt.Fprintln(tw)
			printCounts(tw, "PRIORITY", stats.ByPriority)
		})
	},
}

var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List deployments running longer than the server threshold (administrators)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		items, err := cli.StuckDeployments(ctx, token)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), items, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "ID\tAPPLICATION\tSERVER\tSTARTED\tMINUTES")
			for _, s := range items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n",
					s.Request.ID, s.Request.ApplicationName, s.Request.TargetServer, formatTime(s.Request.DeploymentStartedAt), s.Minutes)
			}
		})
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Browse the activity log (administrators)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if period, _ := cmd.Flags().GetString("stats"); period != "" {
			stats, err := cli.ActivityStats(ctx, token, period)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), stats, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Period:\t%s\n", stats.Period)
				fmt.Fprintf(tw, "Total:\t%d\n\n", stats.Total)
				fmt.Fprintln(tw, "EVENT\tCOUNT")
				for _, c := range stats.ByType {
					fmt.Fprintf(tw, "%s\t%d\n", c.EventType, c.Count)
				}
			})
		}

		opts := apiclient.ActivityOptions{}
		opts.EventType, _ = cmd.Flags().GetString("event")
		opts.UserID, _ = cmd.Flags().GetInt64("user")
		opts.UserRole, _ = cmd.Flags().GetString("role")
		opts.DeploymentRequestID, _ = cmd.Flags().GetInt64("request")
		opts.Page, _ = cmd.Flags().GetInt("page")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		page, err := cli.ActivityLogs(ctx, token, opts)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), page.Entries, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "TIME\tEVENT\tUSER\tREQUEST\tDESCRIPTION")
			for _, e := range page.Entries {
				req := "-"
				if e.DeploymentRequestID != nil {
					req = fmt.Sprint(*e.DeploymentRequestID)
				}
				user := e.Username
				if user == "" {
					user = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", formatTime(&e.CreatedAt), e.EventType, user, req, e.Description)
			}
			if page.Pagination.TotalPages > 1 {
				fmt.Fprintf(tw, "\npage %d of %d (%d total)\n", page.Pagination.Page, page.Pagination.TotalPages, page.Pagination.Total)
			}
		})
	},
}

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Show realtime connection counts (administrators)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		stats, err := cli.Connections(ctx, token)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), stats, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "Total:\t%d\n", stats.Total)
			fmt.Fprintf(tw, "Administrators:\t%d\n", stats.Admins)
			fmt.Fprintf(tw, "Users:\t%d\n", stats.Users)
			fmt.Fprintf(tw, "Unauthenticated:\t%d\n", stats.Unauthenticated)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cli, err := newClient(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		health, err := cli.Health(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), health, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "Status:\t%v\n", health["status"])
			if components, ok := health["components"].(map[string]any); ok {
				for name, c := range components {
					if m, ok := c.(map[string]any); ok {
						fmt.Fprintf(tw, "%s:\t%v\n", name, m["status"])
					}
				}
			}
		})
	},
}

func init() {
	activityCmd.Flags().String("event", "", "Filter by event type")
	activityCmd.Flags().Int64("user", 0, "Filter by user id")
	activityCmd.Flags().String("role", "", "Filter by user role")
	activityCmd.Flags().Int64("request", 0, "Filter by deployment request id")
	activityCmd.Flags().Int("page", 1, "Page number")
	activityCmd.Flags().Int("limit", 50, "Page size")
	activityCmd.Flags().String("stats", "", "Show counts for a period instead: today, week, month or all")
}

func printCounts(tw *tabwriter.Writer, header string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(tw, "%s\tCOUNT\n", header)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
	}
}
