package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bookshelf/cmd/security/token"
)

func (c *cli) registerCmd() *cobra.Command {
	var user, email string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (reads the password from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := c.readPassword()
			if err != nil {
				return err
			}
			cl, err := c.client()
			if err != nil {
				return err
			}
			u, err := cl.Register(cmd.Context(), user, email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "registered %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "email address (optional)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var login string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session (reads the password from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := c.readPassword()
			if err != nil {
				return err
			}
			cl, err := c.client()
			if err != nil {
				return err
			}
			u, err := cl.Login(cmd.Context(), login, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "logged in as %s\n", u.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&login, "user", "u", "", "username or email")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End this session and forget the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			if err := cl.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "logged out")
			return nil
		},
	}
}

func (c *cli) logoutAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout-all",
		Short: "End every session of your account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			n, err := cl.LogoutAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "revoked %d session(s)\n", n)
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			u, err := cl.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s (%s) roles=%s\n", u.Username, u.ID, strings.Join(u.Roles, ","))
			return nil
		},
	}
}

func (c *cli) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or revoke your sessions",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List active sessions (--all includes ended ones)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			sessions, err := cl.Sessions(cmd.Context(), all)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDEVICE\tCREATED\tEXPIRES\tSTATE")
			for _, s := range sessions {
				state := "active"
				switch {
				case s.RevokedAt != nil:
					state = "revoked"
				case s.Current:
					state = "current"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.DeviceType,
					s.CreatedAt.Local().Format(time.DateTime), s.ExpiresAt.Local().Format(time.DateTime), state)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include revoked and expired sessions")

	revoke := &cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoke one of your sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			if err := cl.RevokeSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "revoked %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, revoke)
	return cmd
}

// keygenCmd prints fresh server key material as env assignments.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a PASETO signing key and a refresh token HMAC key for the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := token.GeneratePasetoV4SecretHex()
			public, err := token.PasetoV4PublicKeyHex(secret)
			if err != nil {
				return err
			}
			pepper := make([]byte, 32)
			if _, err := rand.Read(pepper); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "BOOKSHELF_PASETO_V4_SECRET_KEY_HEX=%s\n", secret)
			fmt.Fprintf(out, "%s=%s\n", token.HMACEnvKey, hex.EncodeToString(pepper))
			fmt.Fprintf(out, "# public key: %s\n", public)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version)
				return
			}
			fmt.Fprintf(out, "bookshelfctl %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Built:      %s\n", date)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
