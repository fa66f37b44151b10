// hoplink - connect to a server's VPN, launch an RDP or SSH session, and
// tear the VPN down again when the session ends.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hoplink/internal/config"
	"hoplink/internal/conn"
	"hoplink/internal/platform"
	"hoplink/internal/tui"
	"hoplink/internal/ui"
)

const version = "0.3.1"

var (
	flagConfig  string
	flagVerbose int
	flagSimple  bool
	flagMode    string
	flagOutput  string
)

var rootCmd = &cobra.Command{
	Use:   "hoplink",
	Short: "VPN session launcher for RDP and SSH",
	Long: `hoplink brings up a server's VPN profile, waits for the link to become
reachable, launches the requested remote session, and disconnects the
VPN once the session ends.

Run without arguments to start the interactive interface.`,
	Example: `  # Interactive interface
  hoplink

  # Plain-text menus instead of the full-screen interface
  hoplink --simple

  # Straight to a session
  hoplink connect "Edge Gateway" -t ssh`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(flagVerbose)
	},
	RunE: runRoot,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample server catalog",
	Long:  `Write the built-in sample catalog as a TOML file to edit into your own.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the server catalog",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var connectCmd = &cobra.Command{
	Use:   "connect <server>",
	Short: "Connect to a server and block until the session ends",
	Long: `Connect to the named server directly, skipping the menus. The server is
either a 1-based catalog index or a server name (case-insensitive).`,
	Example: `  hoplink connect 1
  hoplink connect "Edge Gateway" -t both`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "server catalog file (default: servers.toml, then the per-user config)")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.Flags().BoolVar(&flagSimple, "simple", false, "plain-text menus instead of the full-screen interface")

	initCmd.Flags().StringVarP(&flagOutput, "output", "o", "servers.toml", "where to write the sample catalog")
	connectCmd.Flags().StringVarP(&flagMode, "type", "t", "rdp", "connection type: rdp, ssh or both")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(connectCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

// setupLogging maps the -v count onto logrus levels. The default only shows
// warnings; the ui package carries the human-facing progress lines.
func setupLogging(verbosity int) {
	logrus.SetOutput(os.Stderr)
	switch {
	case verbosity <= 0:
		logrus.SetLevel(logrus.WarnLevel)
	case verbosity == 1:
		logrus.SetLevel(logrus.InfoLevel)
	case verbosity == 2:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.TraceLevel)
	}
	if verbosity >= 2 {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// catalogPath resolves which catalog file to use and whether the user named
// it explicitly.
func catalogPath() (string, bool) {
	if flagConfig != "" {
		return flagConfig, true
	}
	return config.DefaultPath(), false
}

// loadCatalog reads the catalog at path. A missing file is only fatal when
// the user named the path explicitly; otherwise the built-in catalog serves
// as a starting point.
func loadCatalog(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		ui.Warning(fmt.Sprintf("No catalog at %s, using the built-in servers. Run 'hoplink init' to create one.", path))
		return config.Default(), nil
	default:
		return nil, err
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	path, explicit := catalogPath()
	cfg, err := loadCatalog(path, explicit)
	if err != nil {
		return err
	}

	if flagSimple {
		return runSimple(cmd.Context(), cfg)
	}

	// The alternate screen owns the terminal while the interface runs.
	logrus.SetOutput(io.Discard)
	return tui.New(cmd.Context(), cfg, path, platform.New(), version).Run()
}

// runSimple is the plain-text interactive loop: pick a server, pick a type
// when the server supports more than one, connect, and offer another round
// once the session ends.
func runSimple(ctx context.Context, cfg *config.Config) error {
	ui.Header(version)

	for {
		idx, err := ui.SelectServer(cfg.Servers)
		if err != nil {
			return err
		}
		srv := cfg.Servers[idx]

		mode := conn.ModeRDP
		if srv.HasSSH() {
			if mode, err = ui.SelectMode(); err != nil {
				return err
			}
		}

		if err := runAttempt(ctx, srv, cfg.Settings, mode); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		again, err := ui.Confirm("Connect to another server?")
		if err != nil || !again {
			return err
		}
		fmt.Println()
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(flagOutput); err == nil {
		overwrite, err := ui.Confirm(fmt.Sprintf("%s already exists, overwrite it?", flagOutput))
		if err != nil {
			return err
		}
		if !overwrite {
			ui.Status("Keeping the existing file")
			return nil
		}
	}

	sample, err := config.Sample()
	if err != nil {
		return err
	}
	if err := os.WriteFile(flagOutput, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("failed to write sample catalog: %w", err)
	}

	ui.Success(fmt.Sprintf("Sample catalog written to %s", flagOutput))
	ui.Status("Edit it to match your servers, then run hoplink")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	path, explicit := catalogPath()
	cfg, err := loadCatalog(path, explicit)
	if err != nil {
		return err
	}

	fmt.Printf("Server catalog (%s)\n\n", path)
	for i, srv := range cfg.Servers {
		caps := "rdp"
		if srv.HasSSH() {
			caps = "rdp+ssh"
		}
		fmt.Printf("  %2d) %-24s %-8s vpn=%s\n", i+1, srv.Name, caps, srv.VPN)
	}
	fmt.Println()
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	path, explicit := catalogPath()
	cfg, err := loadCatalog(path, explicit)
	if err != nil {
		return err
	}

	srv, err := resolveServer(cfg.Servers, args[0])
	if err != nil {
		return err
	}
	mode, err := conn.ParseMode(flagMode)
	if err != nil {
		return err
	}

	return runAttempt(cmd.Context(), srv, cfg.Settings, mode)
}

// runAttempt drives one blocking connection attempt with plain-text output.
// Cancellation is a notice, not a failure.
func runAttempt(ctx context.Context, srv config.Server, settings config.Settings, mode conn.Mode) error {
	if err := conn.ValidateMode(srv, mode); err != nil {
		return err
	}

	ui.ConnectionInfo(srv, mode)

	mgr := conn.New(platform.New(), srv, settings)
	mgr.SetNotify(ui.Notify)

	err := mgr.Connect(ctx, mode)
	switch {
	case errors.Is(err, conn.ErrCancelled):
		ui.Warning("Connection attempt cancelled")
		return nil
	case err != nil:
		return err
	}

	ui.Success("Session ended, VPN released")
	return nil
}

// resolveServer turns a catalog reference into a server. Numbers are 1-based
// catalog indices; anything else matches names case-insensitively.
func resolveServer(servers []config.Server, ref string) (config.Server, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(servers) {
			return config.Server{}, fmt.Errorf("server index %d out of range, the catalog has %d servers", n, len(servers))
		}
		return servers[n-1], nil
	}

	for _, srv := range servers {
		if strings.EqualFold(srv.Name, ref) {
			return srv, nil
		}
	}
	return config.Server{}, fmt.Errorf("no server named %q in the catalog, try 'hoplink list'", ref)
}
