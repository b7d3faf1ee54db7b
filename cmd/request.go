package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kilianp07/transitsim/core/clock"
	"github.com/kilianp07/transitsim/core/message"
	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/transport"
	"github.com/kilianp07/transitsim/infra/logger"
	"github.com/kilianp07/transitsim/infra/mqtt"
)

var (
	reqStation     string
	reqDestination string
	reqTimeout     time.Duration
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Ask a station for a ride over MQTT and print the reply",
	RunE:  request,
}

func init() {
	requestCmd.Flags().StringVar(&reqStation, "station", "", "station the passenger waits at")
	requestCmd.Flags().StringVar(&reqDestination, "destination", "", "destination station")
	requestCmd.Flags().DurationVar(&reqTimeout, "timeout", 30*time.Second, "how long to wait for a reply")
	_ = requestCmd.MarkFlagRequired("station")
	_ = requestCmd.MarkFlagRequired("destination")
	rootCmd.AddCommand(requestCmd)
}

// dialMQTT opens the MQTT transport regardless of the configured kind.
func dialMQTT(cmd *cobra.Command, component string) (*mqtt.Transport, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	mc := cfg.Transport.MQTT
	mc.SetDefaults()
	if err := mc.Validate(); err != nil {
		return nil, err
	}
	return mqtt.New(mc, logger.New(component))
}

func request(cmd *cobra.Command, args []string) error {
	t, err := dialMQTT(cmd, "request")
	if err != nil {
		return err
	}
	defer t.Close()

	id := "passenger/" + uuid.NewString()[:8]
	in, err := t.Register(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), reqTimeout)
	defer cancel()

	env := message.New(id, model.StationAgentID(reqStation), message.Request,
		message.TravelRequest{Destination: reqDestination})
	if err := t.Send(ctx, env); err != nil {
		return fmt.Errorf("send travel request: %w", err)
	}
	reply, ok, err := transport.Receive(ctx, in, clock.Real(), reqTimeout)
	if err != nil || !ok {
		return fmt.Errorf("no reply from %s within %s", reqStation, reqTimeout)
	}
	out := cmd.OutOrStdout()
	switch p := reply.Payload.(type) {
	case message.VehicleFound:
		fmt.Fprintf(out, "vehicle found, eta %.1f\n", p.ETA)
	case message.Refusal:
		fmt.Fprintf(out, "refused: %s\n", p.Reason)
	default:
		fmt.Fprintf(out, "unexpected reply: %s\n", reply)
	}
	return nil
}
