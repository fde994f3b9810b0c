package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/simctl/internal/config"
	"github.com/danmuck/simctl/internal/workload/builtin"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "simctl",
		Short:        "simctl drives distributed test suites across agents and workers.",
		SilenceUsage: true,
	}
	cmd.AddCommand(runCmd(), configCmd(), workloadsCmd())
	return cmd
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every test of a suite through its full lifecycle.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// ctrl-C aborts the current test and tears it down.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return executeRun(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "simctl.toml", "Path to the simctl TOML config.")
	cmd.Flags().StringVarP(&opts.suitePath, "suite", "s", "", "Suite YAML path, overrides suite_path.")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop at the first failing test.")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage simctl config files.",
	}

	var (
		kind      string
		overwrite bool
	)
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a config or suite template.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, args[0])
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "config", "Template kind: config or suite.")
	initCmd.Flags().BoolVar(&overwrite, "force", false, "Overwrite an existing file.")

	cmd.AddCommand(initCmd)
	return cmd
}

func workloadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workloads",
		Short: "List the workload classes a suite may reference.",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range builtin.NewRegistry().Types() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

