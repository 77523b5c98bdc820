package cli

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nxfs/stress-ng/internal/stressor"
)

func newListCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available stressors",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Name", "Class", "OOMable", "Description")
			for _, info := range stressor.Catalog() {
				oomable := ""
				if info.Oomable {
					oomable = "yes"
				}
				table.Append([]string{info.Name, info.Class.String(), oomable, info.Help})
			}
			return table.Render()
		},
	}
}
