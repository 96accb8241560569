package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/logging"
	"github.com/sim-control/simbridge/internal/scheduler"
	"github.com/spf13/cobra"
)

type planGroup struct {
	RateHz    float64  `json:"rateHz"`
	Exclusive bool     `json:"exclusive"`
	Members   []string `json:"members"`
}

type planProcessor struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Input       string `json:"input"`
	OutputTopic string `json:"outputTopic"`
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the sensor poll groups for a configuration",
		Long: `Load and validate a configuration, then print the poll groups the
scheduler would run and the processors bound to each sensor. Nothing
connects to the simulator.

Examples:
  simbridge plan --config config/simbridge.yaml
  simbridge plan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load(path, logging.Discard())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			groups := scheduler.PlanGroups(cfg.SensorDescriptors)
			out := make([]planGroup, len(groups))
			for i, g := range groups {
				out[i] = planGroup{RateHz: g.RateHz, Exclusive: g.Exclusive, Members: g.MemberNames()}
			}

			procs := make([]planProcessor, len(cfg.ProcessorDescriptors))
			for i, p := range cfg.ProcessorDescriptors {
				procs[i] = planProcessor{Name: p.Name, Type: string(p.Kind()), Input: p.Input, OutputTopic: p.OutputTopic}
			}

			w := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(w).Encode(map[string]interface{}{
					"vehicle":    cfg.Vehicle.Name,
					"groups":     out,
					"processors": procs,
				})
			}

			fmt.Fprintf(w, "vehicle %s: %d sensors in %d poll groups\n", cfg.Vehicle.Name, len(cfg.SensorDescriptors), len(out))
			for i, g := range out {
				kind := "shared"
				if g.Exclusive {
					kind = "exclusive"
				}
				fmt.Fprintf(w, "  group %d  %6.1f Hz  %-9s  %s\n", i, g.RateHz, kind, strings.Join(g.Members, ", "))
			}
			for _, p := range procs {
				fmt.Fprintf(w, "  processor %s  %s  %s -> %s\n", p.Name, p.Type, p.Input, p.OutputTopic)
			}
			return nil
		},
	}
}
