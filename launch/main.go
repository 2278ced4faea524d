package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glassechidna/rlarch"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// exitStatus carries the child's exit code out of a command.
type exitStatus int

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

var (
	root     string
	preload  string
	grace    time.Duration
	timeout  time.Duration
	replace  bool
	libcName string
)

var rootCmd = &cobra.Command{
	Use:           "launch",
	Short:         "Run programs against a relocated /usr, /etc and /lib",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command with the rlarch shim preloaded",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		so, err := filepath.Abs(preload)
		if err != nil {
			return errors.WithStack(err)
		}

		r := &runner{root: root, preload: so, grace: grace, args: args}
		if replace {
			return r.exec()
		}

		ctx := cmd.Context()
		if timeout > 0 {
			var cancel func()
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		code, err := r.start(ctx)
		if err != nil {
			return err
		}

		if code != 0 {
			return exitStatus(code)
		}

		return nil
	},
}

var translateCmd = &cobra.Command{
	Use:   "translate path...",
	Short: "Print the path each argument would be redirected to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr := rlarch.NewTranslator(root, afero.NewOsFs())
		for _, p := range args {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", p, tr.RewritePath(p))
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the real libc symbols and the configured root are usable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doctor(cmd.OutOrStdout(), libcName, rlarch.NewTranslator(root, afero.NewOsFs()), afero.NewOsFs())
	},
}

func init() {
	envRoot, _ := rlarch.LookupRoot(os.LookupEnv)

	rootCmd.PersistentFlags().StringVar(&root, "root", envRoot, "Alternate root for /usr, /etc and /lib (default $"+rlarch.RootEnv+")")

	runCmd.Flags().StringVar(&preload, "preload", defaultPreload(), "Path to the shim built from ./preload (default $RLARCH_PRELOAD)")
	runCmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "Time between interrupting and killing the command once stopped")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop the command after this long (0 disables)")
	runCmd.Flags().BoolVar(&replace, "exec", false, "Replace this process instead of supervising the command")

	doctorCmd.Flags().StringVar(&libcName, "libc", "libc.so.6", "Library expected to provide the real dlopen, fopen and execve")

	rootCmd.AddCommand(runCmd, translateCmd, doctorCmd)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("launch: ")

	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var status exitStatus
	if errors.As(err, &status) {
		os.Exit(int(status))
	}

	log.Printf("%+v", err)
	os.Exit(1)
}
