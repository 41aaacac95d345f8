package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moorings/berthhook/internal/logging"
	"github.com/moorings/berthhook/internal/recorder"
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook deliveries",
}

var listDeliveryCmd = &cobra.Command{
	Use:   "list [event-id]",
	Short: "List deliveries for an event",
	Long: `List the delivery rows fanned out for one event of the tenant given
with --tenant, newest first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel, err := tenantContext()
		if err != nil {
			return err
		}
		defer cancel()

		tdb, closeDB, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		rec := recorder.New(tdb, logging.NewWithWriter("berthctl", os.Stderr))
		deliveries, err := rec.ListDeliveries(ctx, args[0], limit)
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(deliveries)
			return nil
		}
		if len(deliveries) == 0 {
			fmt.Println("No deliveries")
			return nil
		}
		for _, d := range deliveries {
			line := fmt.Sprintf("%s  %-9s  attempt=%d  sub=%s", d.ID, d.Status, d.Attempt, d.SubscriptionID)
			if d.LastStatus != 0 {
				line += fmt.Sprintf("  http=%d", d.LastStatus)
			}
			if d.LastError != "" {
				line += fmt.Sprintf("  err=%s", d.LastError)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(listDeliveryCmd)

	listDeliveryCmd.Flags().Int("limit", 20, "maximum rows to return")
}
