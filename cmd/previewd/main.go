package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	previewdCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createDetectCommand(previewdCommand),
		createCheckCommand(previewdCommand),
		createStartCommand(previewdCommand),
		createStopCommand(previewdCommand),
		createStatusCommand(previewdCommand),
		createListCommand(previewdCommand),
		createDiagnoseCommand(previewdCommand),
		createKillPortCommand(previewdCommand),
		createCleanupLocksCommand(previewdCommand),
		createSetPortCommand(previewdCommand),
		createServeCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "previewd",
		Short: "Dev server supervisor for live previews",
		Long: `Previewd infers how to start a web project's dev server, supervises it,
captures its output and explains why a preview is not reachable.

Examples:
  previewd detect ./my-app
  previewd serve                         # Start daemon
  previewd start ./my-app --wait=30s
  previewd status ./my-app
  previewd kill-port 3000`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", defaultAPIUrl, "previewd daemon API URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "daemon API request timeout")
	return root
}

func createDetectCommand(c command) *cobra.Command {
	f := &DetectFlags{}
	cmd := &cobra.Command{
		Use:   "detect [path]",
		Short: "Infer the package manager, dev command and port",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args)
			if err != nil {
				return err
			}
			return c.Detect(cmd.OutOrStdout(), root, *f)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "", "package directory relative to path (monorepos)")
	return cmd
}

func createCheckCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Check whether a project has a web frontend to preview",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args)
			if err != nil {
				return err
			}
			return c.Check(cmd.OutOrStdout(), root)
		},
	}
}

func createStartCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start [path]",
		Short: "Start the dev server of a project through the daemon",
		Long: `Start the dev server of a project through the daemon.
Without --cmd the launch configuration is detected.

Examples:
  previewd start ./my-app
  previewd start ./monorepo --dir=apps/web --port=3100
  previewd start ./my-app --cmd="bun run dev" --port=5173 --wait=30s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args)
			if err != nil {
				return err
			}
			return c.Start(cmd.Context(), cmd.OutOrStdout(), root, *f)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "", "package directory relative to path (monorepos)")
	cmd.Flags().StringVar(&f.Cmd, "cmd", "", "explicit dev command, e.g. \"pnpm run dev\"")
	cmd.Flags().IntVar(&f.Port, "port", 0, "port the dev server listens on")
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "wait until the server is reachable")
	cmd.Flags().DurationVar(&f.Interval, "interval", 500*time.Millisecond, "poll interval for --wait")
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [path]",
		Short: "Stop the dev server of a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args)
			if err != nil {
				return err
			}
			return c.Stop(cmd.Context(), cmd.OutOrStdout(), root)
		},
	}
}

func createStatusCommand(c command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show the live state and diagnosis of a dev server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args)
			if err != nil {
				return err
			}
			return c.Status(cmd.Context(), cmd.OutOrStdout(), root, *f)
		},
	}
	cmd.Flags().BoolVar(&f.Logs, "logs", true, "include captured output")
	return cmd
}

func createListCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects tracked by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.List(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createDiagnoseCommand(c command) *cobra.Command {
	f := &DiagnoseFlags{}
	cmd := &cobra.Command{
		Use:   "diagnose [path]",
		Short: "Explain why a dev server is not serving and suggest a fix",
		Long: `Explain why a dev server is not serving and suggest a fix.
The package directory is checked first, then the captured output,
then whether the process runs and the port answers.

Examples:
  previewd diagnose ./my-app
  previewd diagnose ./monorepo --dir=apps/web --port=3100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args)
			if err != nil {
				return err
			}
			return c.Diagnose(cmd.Context(), cmd.OutOrStdout(), root, *f)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "", "package directory relative to path (monorepos)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "port the dev server should answer on")
	return cmd
}

func createKillPortCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-port PORT",
		Short: "Kill every process listening on a TCP port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := portArg(args[0])
			if err != nil {
				return err
			}
			return c.KillPort(cmd.Context(), cmd.OutOrStdout(), port)
		},
	}
}

func createCleanupLocksCommand(c command) *cobra.Command {
	f := &PackageDirFlags{}
	cmd := &cobra.Command{
		Use:   "cleanup-locks [path]",
		Short: "Remove lock files left behind by killed dev servers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args)
			if err != nil {
				return err
			}
			return c.CleanupLocks(cmd.OutOrStdout(), root, *f)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "", "package directory relative to path (monorepos)")
	return cmd
}

func createSetPortCommand(c command) *cobra.Command {
	f := &PackageDirFlags{}
	cmd := &cobra.Command{
		Use:   "set-port PATH PORT",
		Short: "Rewrite the port flag of the dev script in package.json",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectArg(args[:1])
			if err != nil {
				return err
			}
			port, err := portArg(args[1])
			if err != nil {
				return err
			}
			return c.SetPort(cmd.OutOrStdout(), root, port, *f)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "", "package directory relative to path (monorepos)")
	return cmd
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the previewd daemon",
		Long: `Start the previewd daemon that supervises dev servers and serves the HTTP API.
Configuration is read from the TOML file when given, with PREVIEWD_* environment overrides.

Examples:
  previewd serve
  previewd serve previewd.toml
  previewd serve --listen=127.0.0.1:9090 --metrics-listen=:9100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			cfg, err := loadServeConfig(configPath, *f)
			if err != nil {
				return err
			}
			log := cfg.Logger().NewSlogger()
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "API listen address (overrides [server].listen)")
	cmd.Flags().StringVar(&f.MetricsListen, "metrics-listen", "", "metrics listen address (overrides [metrics].listen)")
	return cmd
}
