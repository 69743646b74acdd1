package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bookshelf/cmd/internal/authclient"
)

const envPrefix = "BOOKSHELFCTL"

// cli carries what every subcommand needs: resolved settings and the process streams.
type cli struct {
	v   *viper.Viper
	in  io.Reader
	out io.Writer
	err io.Writer
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), in: in, out: out, err: errOut}

	root := &cobra.Command{
		Use:   "bookshelfctl",
		Short: "Command line client for the bookshelf API",
		Long: `bookshelfctl signs in to a bookshelf server and manages your sessions.

Settings come from flags, BOOKSHELFCTL_* environment variables, or a
bookshelfctl.yaml config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadConfig()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.String("server", "http://127.0.0.1:8080", "bookshelf server base URL")
	pf.String("credentials", defaultCredentialsPath(), "path of the credentials file")
	pf.String("config", "", "config file (default: <user config dir>/bookshelf/bookshelfctl.yaml)")
	pf.Duration("timeout", 30*time.Second, "per-request timeout")
	pf.BoolP("verbose", "v", false, "log token refreshes to stderr")
	for _, name := range []string{"server", "credentials", "config", "timeout", "verbose"} {
		_ = c.v.BindPFlag(name, pf.Lookup(name))
	}
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		c.registerCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.logoutAllCmd(),
		c.whoamiCmd(),
		c.sessionsCmd(),
		keygenCmd(),
		versionCmd(),
	)
	return root
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "bookshelf", "credentials.json")
}

// loadConfig reads the optional config file. An explicitly named file must exist.
func (c *cli) loadConfig() error {
	if path := c.v.GetString("config"); path != "" {
		c.v.SetConfigFile(path)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	c.v.SetConfigName("bookshelfctl")
	c.v.SetConfigType("yaml")
	if dir, err := os.UserConfigDir(); err == nil {
		c.v.AddConfigPath(filepath.Join(dir, "bookshelf"))
	}
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.err, &slog.HandlerOptions{Level: level}))
}

func (c *cli) client() (*authclient.Client, error) {
	server := strings.TrimRight(c.v.GetString("server"), "/")
	creds := c.v.GetString("credentials")
	if creds == "" {
		return nil, errors.New("no credentials path configured")
	}
	return authclient.NewClient(server,
		authclient.WithRefreshStore(newFileStore(creds, server)),
		authclient.WithTimeout(c.v.GetDuration("timeout")),
		authclient.WithUserAgent("bookshelfctl/"+version),
		authclient.WithCoordinatorConfig(authclient.Config{Logger: c.logger()}),
	)
}

// readPassword takes the first line of in. Interactive callers get a prompt on stderr.
func (c *cli) readPassword() (string, error) {
	if f, ok := c.in.(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(c.err, "Password: ")
		}
	}
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

// describeError turns client errors into a short message for the terminal.
func describeError(err error) string {
	var apiErr *authclient.APIError
	switch {
	case errors.Is(err, authclient.ErrNoRefreshToken), errors.Is(err, authclient.ErrSessionEnded):
		return "not logged in (run `bookshelfctl login`)"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.As(err, &apiErr):
		if apiErr.RetryAfter > 0 {
			return fmt.Sprintf("%s (retry in %s)", apiErr.Message, apiErr.RetryAfter)
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return apiErr.Error()
	default:
		return err.Error()
	}
}
