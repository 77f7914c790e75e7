package cli

import (
	"context"
	"errors"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources and their polling state",
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	if err := initServices(ctx); err != nil {
		return err
	}

	sources, err := store.SourceStore().List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	cmd.SetOut(w)
	cmd.Println("ID\tKIND\tENDPOINT\tCADENCE\tENABLED\tFAILURES\tLAST SUCCESS")
	for _, source := range sources {
		state, err := store.StateStore().Get(ctx, source.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		failures := 0
		lastSuccess := "never"
		if state != nil {
			failures = state.ConsecutiveFailures
			if !state.LastSuccess.IsZero() {
				lastSuccess = state.LastSuccess.UTC().Format("2006-01-02 15:04:05")
			}
		}

		cmd.Printf("%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			source.ID, source.Kind, source.Endpoint, source.Cadence,
			source.Enabled, failures, lastSuccess)
	}
	return nil
}
