package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	playbookVars     []string
	playbookDryRun   bool
	playbookIncident string
)

var playbookCmd = &cobra.Command{
	Use:   "playbook",
	Short: "Inspect and run remediation playbooks",
}

var playbookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered playbooks",
	Run:   runPlaybookList,
}

var playbookRunCmd = &cobra.Command{
	Use:   "run <playbook-id>",
	Short: "Run a playbook and print the per-step results",
	Args:  cobra.ExactArgs(1),
	Run:   runPlaybookRun,
}

func init() {
	playbookRunCmd.Flags().StringSliceVar(&playbookVars, "var", nil, "Variable override key=value (repeatable)")
	playbookRunCmd.Flags().BoolVar(&playbookDryRun, "dry-run", false, "Walk the steps without executing tools")
	playbookRunCmd.Flags().StringVar(&playbookIncident, "incident", "", "Incident id to attach")
	playbookCmd.AddCommand(playbookListCmd)
	playbookCmd.AddCommand(playbookRunCmd)
}

func runPlaybookList(cmd *cobra.Command, args []string) {
	rt, err := newRuntime()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	ids := rt.library.List()
	if len(ids) == 0 {
		fmt.Printf("No playbooks in %s\n", rt.cfg.PlaybookDir())
		return
	}
	for _, id := range ids {
		pb, _ := rt.library.Get(id)
		fmt.Printf("%s  v%d  %d steps  %s\n", id, pb.Version, len(pb.Steps), pb.Name)
	}
}

func runPlaybookRun(cmd *cobra.Command, args []string) {
	rt, err := newRuntime()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	vars := make(map[string]string)
	for _, kv := range playbookVars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			fmt.Printf("Error: invalid --var %q, expected key=value\n", kv)
			os.Exit(1)
		}
		vars[k] = v
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.gate.Run(ctx)
	rt.bus.Subscribe(printEvent)
	go rt.bus.DispatchEvents(ctx)

	execID, err := rt.control.TriggerPlaybook(ctx, args[0], playbookIncident, vars, playbookDryRun)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("execution %s started\n", execID)

	rt.pools.Playbook.Wait()

	rec, err := rt.store.GetExecution(execID)
	if err != nil {
		fmt.Printf("Error reading execution: %v\n", err)
		os.Exit(1)
	}
	switch rec.Status {
	case "SUCCESS":
		color.Green("execution %s: %s", execID, rec.Status)
	default:
		color.Red("execution %s: %s %s", execID, rec.Status, rec.Error)
	}
	if rec.StepsJSON != "" {
		fmt.Println(rec.StepsJSON)
	}
}
