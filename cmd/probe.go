package cmd

import (
	"fmt"
	"time"

	"github.com/smazurov/shellkeeper/internal/process"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd(load SpecLoader) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run the readiness check once against a running backend",
		Long: `Polls the configured readiness endpoint until it answers or the timeout passes. ` +
			`Useful to confirm a manually started backend is reachable the way the supervisor expects.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := load()
			if err != nil {
				return fmt.Errorf("invalid backend configuration: %w", err)
			}

			wait := spec.Readiness.Timeout
			if timeout > 0 {
				wait = timeout
			}

			start := time.Now()
			probe := process.NewProbe(spec.Readiness)
			if err := process.AwaitReady(cmd.Context(), nil, probe, wait, spec.Readiness.Interval); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ready after %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "wait", 0, "How long to keep polling (default: readiness timeout)")
	return cmd
}
