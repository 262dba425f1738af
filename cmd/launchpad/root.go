package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// buildRoot creates the root command and its subcommands.
func buildRoot(c *command) *cobra.Command {
	root := createRootCommand(c.global)
	root.SetOut(c.out)
	root.AddCommand(
		createServeCommand(c),
		createAddCommand(c),
		createUpdateCommand(c),
		createListCommand(c),
		createRemoveCommand(c),
		createLaunchCommand(c),
		createRunningCommand(c),
		createHistoryCommand(c),
		createWatchCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "launchpad",
		Short: "Emulator and game launcher",
		Long: `Launchpad keeps a catalogue of executables (emulators, games, tools)
and launches them as detached processes, one instance per entry.

Examples:
  launchpad add --name=SNES --exe=/opt/emu/snes9x.AppImage --args="--fullscreen"
  launchpad list
  launchpad launch --id=<entry id>
  launchpad serve                                   # HTTP API on server.listen
  launchpad running --api-url=http://host:8080/api  # ask a running server`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "launchpad server URL (e.g. http://host:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&flags.APICACert, "api-ca", "", "CA certificate to trust for an https --api-url")
	root.PersistentFlags().StringVar(&flags.APIToken, "api-token", os.Getenv("LAUNCHPAD_API_TOKEN"), "bearer token for --api-url (server.auth.token)")
	root.PersistentFlags().BoolVar(&flags.Insecure, "api-insecure", false, "skip TLS verification for --api-url")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print JSON instead of tables")
	return root
}

func createServeCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the HTTP API (entries, launches, running processes, exit events
over websocket and, when enabled, Prometheus metrics) until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error { return c.Serve(cmd.Context()) },
	}
}

func createAddCommand(c *command) *cobra.Command {
	f := &AddFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an entry",
		Example: `  launchpad add --name=MAME --exe=/opt/mame/mame.exe --category=arcade
  launchpad add --name=Dolphin --exe=/opt/dolphin/Dolphin.exe --workdir=/games/gc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Add(cmd.Context(), *f, cmd.Flags().Changed("workdir"))
		},
	}
	addEntryFlags(cmd, f)
	mustRequire(cmd, "name", "exe")
	return cmd
}

func createUpdateCommand(c *command) *cobra.Command {
	f := &UpdateFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace the editable fields of an entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Update(cmd.Context(), *f, cmd.Flags().Changed("workdir"))
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "entry id (required)")
	addEntryFlags(cmd, &f.AddFlags)
	cmd.Flags().BoolVar(&f.ClearWorkDir, "clear-workdir", false, "unset the working directory")
	mustRequire(cmd, "id", "name", "exe")
	return cmd
}

func addEntryFlags(cmd *cobra.Command, f *AddFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.Exe, "exe", "", "path to the executable")
	cmd.Flags().StringVar(&f.Args, "args", "", "arguments, sanitized at launch")
	cmd.Flags().StringVar(&f.WorkDir, "workdir", "", "working directory")
	cmd.Flags().StringVar(&f.Category, "category", "", "category (default general)")
	cmd.Flags().StringVar(&f.Description, "description", "", "description")
	cmd.Flags().StringVar(&f.Icon, "icon", "", "icon path; extracted from the executable when empty")
}

func createListCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List entries",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.List(cmd.Context()) },
	}
}

func createRemoveCommand(c *command) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an entry that is not running",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Remove(cmd.Context(), id) },
	}
	cmd.Flags().StringVar(&id, "id", "", "entry id (required)")
	mustRequire(cmd, "id")
	return cmd
}

func createLaunchCommand(c *command) *cobra.Command {
	f := &LaunchFlags{}
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch an entry",
		Long: `Launch an entry. Without --api-url the entry is started by this process;
the child is detached and keeps running after the command returns.`,
		RunE: func(cmd *cobra.Command, args []string) error { return c.Launch(cmd.Context(), *f) },
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "entry id (required)")
	cmd.Flags().BoolVar(&f.Wait, "wait", false, "wait for the child to exit (local only)")
	mustRequire(cmd, "id")
	return cmd
}

func createRunningCommand(c *command) *cobra.Command {
	f := &RunningFlags{}
	cmd := &cobra.Command{
		Use:   "running",
		Short: "Show running entries",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Running(cmd.Context(), *f) },
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "show one entry")
	cmd.Flags().BoolVar(&f.Resources, "resources", false, "include resource sample history (with --id)")
	return cmd
}

func createHistoryCommand(c *command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent launches and exits of an entry",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.History(cmd.Context(), *f) },
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "entry id (required)")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "number of events")
	mustRequire(cmd, "id")
	return cmd
}

func createWatchCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream exit events from a server (requires --api-url)",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Watch(cmd.Context()) },
	}
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
