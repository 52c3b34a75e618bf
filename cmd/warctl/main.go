package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apiclient "github.com/CarlosSalas01/SistemaDeReplicas/pkg/api/client"
)

const defaultAPIBase = "http://localhost:3001"

var (
	// Version is set via ldflags during build.
	Version = "dev"

	apiFlag    string
	outputFlag string
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
	Username    string `json:"username,omitempty"`
	Role        string `json:"role,omitempty"`
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "warctl",
	Short:         "Submit, review and deploy WAR deployment requests",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "API base URL (default "+defaultAPIBase+")")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json or yaml")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, passwdCmd)
	rootCmd.AddCommand(uploadCmd, listCmd, showCmd, reviewCmd, deployCmd, downloadCmd)
	rootCmd.AddCommand(statsCmd, stuckCmd, activityCmd, connectionsCmd, healthCmd)
	rootCmd.AddCommand(watchCmd)
}

// session resolves the API client and stored token for commands that
// require a login.
func session() (*apiclient.Client, string, cliConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", cliConfig{}, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", cfg, errors.New("please login first using 'warctl login'")
	}
	cli, err := newClient(cfg)
	if err != nil {
		return nil, "", cfg, err
	}
	return cli, token, cfg, nil
}

func newClient(cfg cliConfig) (*apiclient.Client, error) {
	base := cfg.APIBaseURL
	if strings.TrimSpace(apiFlag) != "" {
		base = apiFlag
	}
	return apiclient.New(base)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

// render prints v as json or yaml when requested and otherwise calls table.
func render(w io.Writer, v any, table func(*tabwriter.Writer)) error {
	switch outputFlag {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", outputFlag)
	}
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("WARCTL_CONFIG")); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "warctl", "config.json"), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
