package cli

import (
	"context"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

var flagStatusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [source-id]",
	Short: "Show recent poll history",
	Long: `Shows recent poll outcomes. With a source ID only that source's
history is shown; otherwise the most recent poll of every source.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&flagStatusLimit, "limit", "n", 10, "history entries per source")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := initServices(ctx); err != nil {
		return err
	}

	var sourceIDs []string
	limit := flagStatusLimit
	if len(args) > 0 {
		sourceIDs = []string{args[0]}
	} else {
		sources, err := store.SourceStore().List(ctx)
		if err != nil {
			return err
		}
		for _, source := range sources {
			sourceIDs = append(sourceIDs, source.ID)
		}
		limit = 1
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	cmd.SetOut(w)
	cmd.Println("SOURCE\tSTARTED\tOK\tLISTED\tNEW\tCONFIRMED\tFALSE+\tDUP\tERROR")
	for _, sourceID := range sourceIDs {
		results, err := store.PollHistoryStore().History(ctx, sourceID, limit)
		if err != nil {
			return err
		}
		for _, result := range results {
			printResult(cmd, &result)
		}
	}
	return nil
}

func printResult(cmd *cobra.Command, result *domain.PollResult) {
	errMsg := result.Error
	if len(errMsg) > 60 {
		errMsg = errMsg[:57] + "..."
	}
	cmd.Printf("%s\t%s\t%t\t%d\t%d\t%d\t%d\t%d\t%s\n",
		result.SourceID, result.StartedAt.UTC().Format("2006-01-02 15:04:05"),
		result.Success, result.ItemsListed, result.NewDocuments,
		result.ConfirmedChanges, result.FalsePositives, result.Duplicates, errMsg)
}
