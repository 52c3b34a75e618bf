package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login USERNAME|EMAIL",
	Short: "Log in and store the access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		secret, err := readSecret("Password: ", password)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if strings.TrimSpace(apiFlag) != "" {
			cfg.APIBaseURL = apiFlag
		}
		cli, err := newClient(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		sess, err := cli.Login(ctx, args[0], secret)
		if err != nil {
			return err
		}
		cfg.AccessToken = sess.Token
		cfg.Username = sess.User.Username
		cfg.Role = sess.User.Role
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", sess.User.Username, sess.User.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, cfg, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := cli.Logout(ctx, token); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		cfg.AccessToken = ""
		cfg.Username = ""
		cfg.Role = ""
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		user, err := cli.Profile(ctx, token)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), user, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "ID:\t%d\n", user.ID)
			fmt.Fprintf(tw, "Username:\t%s\n", user.Username)
			fmt.Fprintf(tw, "Email:\t%s\n", user.Email)
			fmt.Fprintf(tw, "Role:\t%s\n", user.Role)
			fmt.Fprintf(tw, "Last login:\t%s\n", formatTime(user.LastLogin))
		})
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the account password",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, token, _, err := session()
		if err != nil {
			return err
		}
		current, err := readSecret("Current password: ", "")
		if err != nil {
			return err
		}
		next, err := readSecret("New password: ", "")
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := cli.ChangePassword(ctx, token, current, next); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "password updated")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("password", "", "Password (supply to avoid prompt)")
}

func readSecret(prompt, given string) (string, error) {
	if s := strings.TrimSpace(given); s != "" {
		return s, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
