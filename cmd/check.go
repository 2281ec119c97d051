package cmd

import (
	"fmt"
	"strings"

	"github.com/smazurov/shellkeeper/internal/process"
	"github.com/spf13/cobra"
)

// SpecLoader returns the launch spec built from the parsed options.
type SpecLoader func() (process.LaunchSpec, error)

// CreateCheckCmd creates the check command.
func CreateCheckCmd(load SpecLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the backend configuration",
		Long: `Resolves the backend executable and working directory the same way the supervisor does, ` +
			`without starting anything. Exits non-zero if the backend could not be launched.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := load()
			if err != nil {
				return fmt.Errorf("invalid backend configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "anchor:     %s\n", spec.Anchor())
			fmt.Fprintf(out, "workdir:    %s\n", spec.ResolveWorkDir())

			exe, err := spec.ResolveExecutable()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "executable: %s\n", exe)
			if args := spec.Args(); len(args) > 0 {
				fmt.Fprintf(out, "args:       %s\n", strings.Join(args, " "))
			}

			r := spec.Readiness
			target := r.URL
			if r.Kind == process.ProbeTCP {
				target = r.Address
			}
			fmt.Fprintf(out, "readiness:  %s %s (timeout %s)\n", r.Kind, target, r.Timeout)
			fmt.Fprintf(out, "restart:    %d within %s, backoff %s..%s\n",
				spec.Restart.MaxAttempts, spec.Restart.Window, spec.Restart.InitialBackoff, spec.Restart.MaxBackoff)
			return nil
		},
	}
}
