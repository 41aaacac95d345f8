package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moorings/berthhook/internal/subscription"
)

// subscriptionCmd represents the subscription command
var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage webhook subscriptions",
	Long:  `Create, inspect, deactivate, and rotate the secret of webhook subscriptions.`,
}

var createSubscriptionCmd = &cobra.Command{
	Use:   "create [url]",
	Short: "Create a new webhook subscription",
	Long: `Create a subscription for the tenant given with --tenant. The signing
secret is printed exactly once; store it, it cannot be retrieved later.

Example:
  berthctl subscription create https://example.com/hooks --tenant biz_1 --events order.created,order.paid`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, _ := cmd.Flags().GetString("events")
		eventTypes := splitEvents(events)

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

		created, err := subscription.NewStore(tdb).Create(ctx, "", args[0], eventTypes)
		if err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		if outputJSON {
			printOutput(created)
		} else {
			fmt.Printf("Created subscription: %s\n", created.ID)
			fmt.Printf("  Tenant ID: %s\n", created.TenantID)
			fmt.Printf("  URL: %s\n", created.URL)
			fmt.Printf("  Event types: %s\n", strings.Join(created.EventTypes, ", "))
			fmt.Printf("  Secret (shown once): %s\n", created.Secret)
		}
		return nil
	},
}

var listSubscriptionCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		subs, err := subscription.NewStore(tdb).List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		if outputJSON {
			printOutput(subs)
			return nil
		}
		if len(subs) == 0 {
			fmt.Println("No subscriptions")
			return nil
		}
		for _, s := range subs {
			state := "active"
			if !s.Active {
				state = "inactive"
			}
			fmt.Printf("%s  %-8s  %s  [%s]\n", s.ID, state, s.URL, strings.Join(s.EventTypes, ", "))
		}
		return nil
	},
}

var getSubscriptionCmd = &cobra.Command{
	Use:   "get [subscription-id]",
	Short: "Show one subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		sub, err := subscription.NewStore(tdb).Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}
		printOutput(sub)
		return nil
	},
}

var deactivateSubscriptionCmd = &cobra.Command{
	Use:   "deactivate [subscription-id]",
	Short: "Deactivate a subscription",
	Long: `Deactivate a subscription. Future events stop fanning out to it and
pending deliveries stop being attempted. Delivery history is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		n, err := subscription.NewStore(tdb).Deactivate(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to deactivate subscription: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("subscription %s not found", args[0])
		}
		fmt.Printf("Deactivated subscription: %s\n", args[0])
		return nil
	},
}

var rotateSubscriptionCmd = &cobra.Command{
	Use:   "rotate-secret [subscription-id]",
	Short: "Rotate a subscription's signing secret",
	Long: `Replace the signing secret of a subscription. The new secret is printed
exactly once. Deliveries signed with the old secret may still be in
flight; update the receiver before rotating.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		secret, err := subscription.NewStore(tdb).RotateSecret(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to rotate secret: %w", err)
		}
		fmt.Printf("New secret (shown once): %s\n", secret)
		return nil
	},
}

func splitEvents(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(subscriptionCmd)
	subscriptionCmd.AddCommand(createSubscriptionCmd)
	subscriptionCmd.AddCommand(listSubscriptionCmd)
	subscriptionCmd.AddCommand(getSubscriptionCmd)
	subscriptionCmd.AddCommand(deactivateSubscriptionCmd)
	subscriptionCmd.AddCommand(rotateSubscriptionCmd)

	createSubscriptionCmd.Flags().String("events", "", "comma-separated event types to subscribe to")
	_ = createSubscriptionCmd.MarkFlagRequired("events")
}
