package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/transitsim/core/model"
	"github.com/kilianp07/transitsim/core/traffic"
	"github.com/kilianp07/transitsim/infra/logger"
)

var (
	trafficFrom   string
	trafficTo     string
	trafficWeight float64
)

var trafficCmd = &cobra.Command{
	Use:   "traffic",
	Short: "Publish a traffic update to every vehicle over MQTT",
	RunE:  publishTraffic,
}

func init() {
	trafficCmd.Flags().StringVar(&trafficFrom, "from", "", "edge origin")
	trafficCmd.Flags().StringVar(&trafficTo, "to", "", "edge destination")
	trafficCmd.Flags().Float64Var(&trafficWeight, "weight", 0, "new time cost")
	_ = trafficCmd.MarkFlagRequired("from")
	_ = trafficCmd.MarkFlagRequired("to")
	_ = trafficCmd.MarkFlagRequired("weight")
	rootCmd.AddCommand(trafficCmd)
}

func publishTraffic(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	t, err := dialMQTT(cmd, "traffic")
	if err != nil {
		return err
	}
	defer t.Close()

	ids := make([]string, 0, len(cfg.Fleet))
	for _, v := range cfg.Fleet {
		ids = append(ids, model.VehicleAgentID(v.ID))
	}
	ch := traffic.NewChannel(ids, t, logger.New(traffic.SenderID))
	if err := ch.Broadcast(cmd.Context(), trafficFrom, trafficTo, trafficWeight); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s set to %g for %d vehicles\n", trafficFrom, trafficTo, trafficWeight, len(ids))
	return nil
}
