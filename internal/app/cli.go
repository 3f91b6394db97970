package app

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

var Version = "dev"

func Execute(args []string, out io.Writer, errOut io.Writer) int {
	app := App{Out: out, Err: errOut}
	flags := GlobalFlags{}
	var showVersion bool

	root := &cobra.Command{
		Use:           "imgscout",
		Short:         "Search, filter and download web images",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().BoolVarP(&showVersion, "version", "V", false, "version")
	root.PersistentFlags().StringVarP(&flags.DataDir, "data-dir", "D", "", "data directory")
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "C", "", "config file")
	root.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "json output")
	root.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "quiet output")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVarP(&flags.NoStart, "no-start", "N", false, "do not auto-start the daemon")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if showVersion {
			fmt.Fprintln(out, Version)
			return exitError{code: exitSuccess}
		}
		return nil
	}

	// withEnv loads configuration before handing off to a run function.
	withEnv := func(run func(env, []string) int) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			e, err := app.prepare(flags)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return exitError{code: exitFailure}
			}
			return exitOrNil(run(e, args))
		}
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install Playwright driver and browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitOrNil(app.runInstall(flags))
		},
	}
	installCmd.Flags().StringVarP(&flags.Browser, "browser", "b", "", "browser to install (default firefox)")
	root.AddCommand(installCmd)

	root.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check install and environment health",
		RunE: withEnv(func(e env, _ []string) int {
			return app.runDoctor(e, flags)
		}),
	})

	var count int
	searchCmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Start a new search and store the first results",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(e env, args []string) int {
			return app.runSearch(e, flags, strings.Join(args, " "), count)
		}),
	}
	searchCmd.Flags().IntVarP(&count, "count", "n", 0, "number of results (default page_size)")
	root.AddCommand(searchCmd)

	moreCmd := &cobra.Command{
		Use:   "more",
		Short: "Load more results from the current search",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(e env, _ []string) int {
			return app.runMore(e, flags, count)
		}),
	}
	moreCmd.Flags().IntVarP(&count, "count", "n", 0, "number of results (default page_size)")
	root.AddCommand(moreCmd)

	var sel SelectFlags
	addSelectFlags := func(cmd *cobra.Command, ids bool) {
		cmd.Flags().StringArrayVarP(&sel.Where, "where", "w", nil, `filter expression, e.g. "size > 100000" (repeatable)`)
		cmd.Flags().StringVarP(&sel.Preset, "preset", "p", "", "apply a saved preset")
		if ids {
			cmd.Flags().StringArrayVarP(&sel.IDs, "id", "i", nil, "record id (repeatable)")
		}
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored results",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(e env, _ []string) int {
			return app.runList(e, flags, sel)
		}),
	}
	addSelectFlags(listCmd, true)
	root.AddCommand(listCmd)

	var dir string
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Download the full images of stored results",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(e env, _ []string) int {
			return app.runDownload(e, flags, sel, dir)
		}),
	}
	addSelectFlags(downloadCmd, true)
	downloadCmd.Flags().StringVarP(&dir, "out", "o", "", "target directory (default download_dir)")
	root.AddCommand(downloadCmd)

	root.AddCommand(&cobra.Command{
		Use:   "thumb ID PATH",
		Short: "Write the stored thumbnail of a result",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(e env, args []string) int {
			return app.runThumb(e, args[0], args[1])
		}),
	})

	presetCmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage saved filter presets",
	}
	presetSaveCmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Save filter expressions under a name",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(e env, args []string) int {
			return app.runPresetSave(e, flags, args[0], sel.Where)
		}),
	}
	presetSaveCmd.Flags().StringArrayVarP(&sel.Where, "where", "w", nil, "filter expression (repeatable)")
	presetCmd.AddCommand(presetSaveCmd)
	presetCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List presets",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(e env, _ []string) int {
			return app.runPresetList(e, flags)
		}),
	})
	presetCmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Show a preset",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(e env, args []string) int {
			return app.runPresetShow(e, flags, args[0])
		}),
	})
	presetCmd.AddCommand(&cobra.Command{
		Use:   "rm NAME...",
		Short: "Remove presets",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(e env, args []string) int {
			return app.runPresetRemove(e, flags, args)
		}),
	})
	root.AddCommand(presetCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon and stored search state",
		RunE: withEnv(func(e env, _ []string) int {
			return app.runStatus(e, flags)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon and close the browser",
		RunE: withEnv(func(e env, _ []string) int {
			return app.runStop(e, flags)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:    "serve",
		Short:  "Internal daemon entrypoint",
		Hidden: true,
		RunE: withEnv(func(e env, _ []string) int {
			return app.runServe(e)
		}),
	})

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(errOut, err)
		return exitUsage
	}
	return exitSuccess
}

func exitOrNil(code int) error {
	if code == exitSuccess {
		return nil
	}
	return exitError{code: code}
}
