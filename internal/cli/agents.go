package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentdispatch/registry"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the configured remote agents",
	RunE:  runAgents,
}

func runAgents(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tDISPLAY NAME\tCLOUD\tSCOPE\tENDPOINT")
	for _, a := range cfg.Agents {
		endpoint, err := a.Connection.ConversationsURL()
		if err != nil {
			endpoint = "invalid: " + err.Error()
		}
		cloud := string(a.Connection.Cloud)
		if cloud == "" {
			cloud = string(registry.CloudProd)
		}
		fmt.Fprintf(w, "@%s\t%s\t%s\t%s\t%s\n", a.Alias, a.DisplayName, cloud, a.Connection.ResolveScope(), endpoint)
	}
	return w.Flush()
}
