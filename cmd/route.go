package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/transitsim/core/model"
)

var routeClass string

var routeCmd = &cobra.Command{
	Use:   "route FROM TO",
	Short: "Print the fastest path between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE:  route,
}

func init() {
	routeCmd.Flags().StringVar(&routeClass, "class", string(model.ClassBus), "vehicle class (bus|tram)")
	rootCmd.AddCommand(routeCmd)
}

func route(cmd *cobra.Command, args []string) error {
	class, err := model.ParseClass(routeClass)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	net, err := cfg.RoadNetwork()
	if err != nil {
		return err
	}
	path, ok := net.ShortestPath(args[0], args[1], class)
	if !ok {
		return fmt.Errorf("no %s path from %s to %s", class, args[0], args[1])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\ntime=%g distance=%g\n",
		strings.Join(path, " -> "), net.PathTime(path), net.PathDistance(path))
	return nil
}
