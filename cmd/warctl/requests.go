package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apiclient "github.com/CarlosSalas01/SistemaDeReplicas/pkg/api/client"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE.war",
	Short: "Submit a WAR archive as a new deployment request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		in := apiclient.UploadInput{}
		in.TargetServer, _ = cmd.Flags().GetString("server")
		in.ApplicationName, _ = cmd.Flags().GetString("app")
		in.Description, _ = cmd.Flags().GetString("description")
		in.Priority, _ = cmd.Flags().GetString("priority")
		in.Environment, _ = cmd.Flags().GetString("env")

		ctx, cancel := requestContext(cmd)
		defer cancel()
		req, err := cli.UploadFile(ctx, token, args[0], in)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), req, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "created request %d for %s (%s)\n", req.ID, req.ApplicationName, req.Status)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployment requests",
	Long: `List your own deployment requests, newest first.

With --all, administrators list every request and may filter by status
and priority.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		opts := apiclient.ListOptions{}
		opts.Status, _ = cmd.Flags().GetString("status")
		opts.Priority, _ = cmd.Flags().GetString("priority")
		opts.Page, _ = cmd.Flags().GetInt("page")
		opts.Limit, _ = cmd.Flags().GetInt("limit")

		ctx, cancel := requestContext(cmd)
		defer cancel()
		var page apiclient.RequestPage
		if all {
			page, err = cli.AllRequests(ctx, token, opts)
		} else {
			page, err = cli.MyRequests(ctx, token, opts)
		}
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), page.Requests, func(tw *tabwriter.Writer) {
			printRequests(tw, page.Requests)
			if page.Pagination.TotalPages > 1 {
				fmt.Fprintf(tw, "\npage %d of %d (%d total)\n", page.Pagination.Page, page.Pagination.TotalPages, page.Pagination.Total)
			}
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one deployment request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		req, err := cli.GetRequest(ctx, token, id)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), req, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "ID:\t%d\n", req.ID)
			fmt.Fprintf(tw, "Application:\t%s\n", req.ApplicationName)
			fmt.Fprintf(tw, "File:\t%s (%d bytes)\n", req.FileName, req.FileSize)
			fmt.Fprintf(tw, "Target server:\t%s\n", req.TargetServer)
			fmt.Fprintf(tw, "Status:\t%s\n", req.Status)
			fmt.Fprintf(tw, "Priority:\t%s\n", req.Priority)
			fmt.Fprintf(tw, "Environment:\t%s\n", req.Environment)
			fmt.Fprintf(tw, "Submitted by:\t%s\n", req.Username)
			fmt.Fprintf(tw, "Submitted at:\t%s\n", formatTime(&req.CreatedAt))
			if req.ReviewedByUsername != "" {
				fmt.Fprintf(tw, "Reviewed by:\t%s at %s\n", req.ReviewedByUsername, formatTime(req.ReviewedAt))
			}
			if req.ReviewComments != "" {
				fmt.Fprintf(tw, "Comments:\t%s\n", req.ReviewComments)
			}
			if req.DeploymentStartedAt != nil {
				fmt.Fprintf(tw, "Deployment:\t%s -> %s\n", formatTime(req.DeploymentStartedAt), formatTime(req.DeploymentCompletedAt))
			}
			if req.DeploymentLogs != "" {
				fmt.Fprintf(tw, "Logs:\t%s\n", req.DeploymentLogs)
			}
		})
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review ID reviewing|approved|rejected",
	Short: "Review a pending request (administrators)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		comments, _ := cmd.Flags().GetString("comments")
		ctx, cancel := requestContext(cmd)
		defer cancel()
		req, err := cli.Review(ctx, token, id, args[1], comments)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "request %d is now %s\n", req.ID, req.Status)
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy ID",
	Short: "Deploy an approved request (administrators)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		req, err := cli.Deploy(ctx, token, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deployment of request %d started (%s)\n", req.ID, req.Status)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download ID",
	Short: "Download the archive of a request (administrators)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("dir")
		tmp, err := os.CreateTemp(dir, ".warctl-download-*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())

		ctx, cancel := requestContext(cmd)
		defer cancel()
		name, err := cli.Download(ctx, token, id, tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, filepath.Base(name))
		if err := os.Rename(tmp.Name(), dest); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", dest)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("server", "", "Target server")
	uploadCmd.Flags().String("app", "", "Application name")
	uploadCmd.Flags().String("description", "", "Description")
	uploadCmd.Flags().String("priority", "", "Priority: low, medium, high or urgent")
	uploadCmd.Flags().String("env", "", "Environment: development, testing or staging")
	_ = uploadCmd.MarkFlagRequired("server")
	_ = uploadCmd.MarkFlagRequired("app")

	listCmd.Flags().Bool("all", false, "List every request (administrators)")
	listCmd.Flags().String("status", "", "Filter by status (with --all)")
	listCmd.Flags().String("priority", "", "Filter by priority (with --all)")
	listCmd.Flags().Int("page", 1, "Page number")
	listCmd.Flags().Int("limit", 20, "Page size")

	reviewCmd.Flags().String("comments", "", "Review comments")
	downloadCmd.Flags().String("dir", ".", "Destination directory")
}

func printRequests(tw *tabwriter.Writer, items []apiclient.Request) {
	fmt.Fprintln(tw, "ID\tAPPLICATION\tFILE\tSERVER\tSTATUS\tPRIORITY\tENV\tOWNER\tSUBMITTED")
	for _, r := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.ApplicationName, r.FileName, r.TargetServer, r.Status, r.Priority, r.Environment, r.Username, formatTime(&r.CreatedAt))
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", raw)
	}
	return id, nil
}
