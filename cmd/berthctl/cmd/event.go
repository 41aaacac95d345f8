package cmd

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/moorings/berthhook/internal/auth"
	"github.com/moorings/berthhook/internal/config"
	"github.com/moorings/berthhook/internal/recorder"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish business events",
	Long:  `Publish events to the bus for recording and webhook fan-out.`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish an event to the bus",
	Long: `Publish an event on behalf of the tenant given with --tenant. The
envelope carries a signed tenant assertion minted from --signing-key.

Example:
  berthctl event publish order.created --tenant biz_1 --payload '{"order_id":"ord_42"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}
		if signingKey == "" {
			return fmt.Errorf("--signing-key (or BUS_SIGNING_KEY) is required")
		}
		payloadStr, _ := cmd.Flags().GetString("payload")
		eventID, _ := cmd.Flags().GetString("event-id")

		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return fmt.Errorf("failed to parse payload: %w", err)
		}

		token, err := auth.NewIssuer(signingKey, 5*time.Minute).Mint(tenantID)
		if err != nil {
			return fmt.Errorf("failed to mint tenant assertion: %w", err)
		}

		env := recorder.NewEnvelope(args[0], token, payload, eventID)
		body, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}

		producer, err := nsq.NewProducer(effectiveNsqd(), nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}
		defer producer.Stop()

		topic := config.FromEnv().NSQ.EventsTopic
		if err := producer.Publish(topic, body); err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{"topic": topic, "event_type": args[0], "event_id": env.EventID})
		} else {
			fmt.Printf("Published %s to topic %q\n", args[0], topic)
			if env.EventID != "" {
				fmt.Printf("  Event ID: %s\n", env.EventID)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(publishEventCmd)

	publishEventCmd.Flags().String("payload", "{}", "event payload as JSON")
	publishEventCmd.Flags().String("event-id", "", "idempotency key (generated by the recorder when empty)")
}
