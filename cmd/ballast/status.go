package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tidecraft/ballast/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [workload]",
	Short: "Show workload status",
	Long: `Show rollout and instance status for all workloads, or detailed
instance state for one workload.

Examples:
  ballast status
  ballast status api`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("server", "http://127.0.0.1:7600", "Engine API address")
}

func runStatus(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")

	if len(args) == 1 {
		return showWorkload(server, args[0])
	}
	return showAll(server)
}

func showAll(server string) error {
	resp, err := http.Get(server + "/api/v1/workloads")
	if err != nil {
		return fmt.Errorf("failed to reach engine at %s: %w", server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status failed: %s", readError(resp.Body))
	}

	var workloads []*types.Workload
	if err := json.NewDecoder(resp.Body).Decode(&workloads); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tREPLICAS\tROLLOUT\tGENERATION\tCONDITION")
	for _, wl := range workloads {
		state, gen, cond := rolloutSummary(wl.Rollout)
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", wl.Name, wl.Replicas, state, gen, cond)
	}
	return w.Flush()
}

func showWorkload(server, name string) error {
	resp, err := http.Get(server + "/api/v1/workloads/" + name)
	if err != nil {
		return fmt.Errorf("failed to reach engine at %s: %w", server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status failed: %s", readError(resp.Body))
	}

	var view struct {
		Workload  *types.Workload   `json:"workload"`
		Instances []*types.Instance `json:"instances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	state, gen, cond := rolloutSummary(view.Workload.Rollout)
	fmt.Printf("Workload: %s\n", view.Workload.Name)
	fmt.Printf("  Image:      %s\n", view.Workload.Template.Image)
	fmt.Printf("  Replicas:   %d\n", view.Workload.Replicas)
	fmt.Printf("  Rollout:    %s (generation %s)\n", state, gen)
	if cond != "-" {
		fmt.Printf("  Condition:  %s\n", cond)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATE\tADDRESS\tGENERATION\tHASH")
	for _, inst := range view.Instances {
		if inst.State == types.InstanceStateTerminated {
			continue
		}
		addr := inst.Address
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", inst.ID[:8], inst.State, addr, inst.Generation, inst.TemplateHash)
	}
	return w.Flush()
}

func rolloutSummary(st *types.RolloutStatus) (state, generation, condition string) {
	if st == nil {
		return string(types.RolloutStateIdle), "0", "-"
	}
	condition = "-"
	if st.Condition != types.RolloutConditionNone {
		condition = string(st.Condition)
	}
	return string(st.State), fmt.Sprintf("%d", st.Generation), condition
}
