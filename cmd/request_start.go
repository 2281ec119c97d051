package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/shellkeeper/internal/logging"
	"github.com/smazurov/shellkeeper/internal/nats"
	"github.com/spf13/cobra"
)

// CreateRequestStartCmd creates the request-start command. natsURL returns
// the configured URL once options are parsed.
func CreateRequestStartCmd(natsURL func() string) *cobra.Command {
	var reason string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "request-start",
		Short: "Ask a running shellkeeper to start its backend again",
		Long: `Sends a start request over NATS to a running shellkeeper, the same as ` +
			`POST /api/backend/start. Requires nats.url to be configured on both sides.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := natsURL()
			if url == "" {
				return errors.New("nats.url is not configured")
			}

			client, err := nats.NewControlClient(url, logging.GetLogger("nats"))
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", url, err)
			}
			defer client.Close()

			if _, err := client.Start(reason, timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "start accepted")
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded in the supervisor log")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "How long to wait for an answer")
	return cmd
}
