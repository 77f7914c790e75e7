package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var flagRetryFailed bool

var pollCmd = &cobra.Command{
	Use:   "poll [source-id]",
	Short: "Poll sources once",
	Long: `Runs one poll round. With a source ID only that source is polled;
otherwise every enabled source is polled in turn. Confirmed changes are
extracted and published before the command returns.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().BoolVar(&flagRetryFailed, "retry-failed", false,
		"re-run extraction for failed versions instead of polling")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := initServices(ctx); err != nil {
		return err
	}

	if flagRetryFailed {
		if len(args) == 0 {
			return fmt.Errorf("--retry-failed requires a source id")
		}
		retried, err := orchestrator.RetryFailed(ctx, args[0])
		if err != nil {
			return fmt.Errorf("retry failed versions: %w", err)
		}
		cmd.Printf("Re-extracted %d version(s) for %s.\n", retried, args[0])
		return publishAndReport(ctx, cmd)
	}

	if len(args) > 0 {
		result, err := orchestrator.Poll(ctx, args[0])
		if err != nil {
			return fmt.Errorf("poll %s: %w", args[0], err)
		}
		cmd.Printf("Source %s: %d listed, %d new, %d confirmed, %d false positive(s), %d duplicate(s)\n",
			result.SourceID, result.ItemsListed, result.NewDocuments,
			result.ConfirmedChanges, result.FalsePositives, result.Duplicates)
		return publishAndReport(ctx, cmd)
	}

	if err := orchestrator.PollAll(ctx); err != nil {
		// Per-source failures are joined; polling continues past them.
		cmd.PrintErrf("Some sources failed: %v\n", err)
	}
	return publishAndReport(ctx, cmd)
}

func publishAndReport(ctx context.Context, cmd *cobra.Command) error {
	published, err := publisher.PublishPending(ctx)
	if err != nil {
		return fmt.Errorf("publish pending: %w", err)
	}
	cmd.Printf("Published %d version(s).\n", published)
	return nil
}
