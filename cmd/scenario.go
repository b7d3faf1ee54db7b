package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kilianp07/transitsim/infra/logger"
	"github.com/kilianp07/transitsim/qa/scenarios"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario FILE",
	Short: "Run a YAML scenario in-process and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenario,
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := scenarios.Load(args[0])
	if err != nil {
		return err
	}
	res, err := scenarios.Run(cmd.Context(), sc, logger.New("scenario"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scenario %s: found=%d refused=%d no_reply=%d\n", sc.Name, res.Found, res.Refused, res.NoReply)
	names := make([]string, 0, len(res.Passengers))
	for p := range res.Passengers {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		fmt.Fprintf(out, "  %s: %s\n", p, res.Passengers[p])
	}
	return res.Check(sc.Expected)
}
