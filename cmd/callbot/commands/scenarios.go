package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chadiek/hospital-callbot/internal/config"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the patient scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(config.Load())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tID\tPATIENT\tGOAL")
		for i, sc := range catalog.All() {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, sc.ID, sc.Name, sc.Goal)
		}
		return w.Flush()
	},
}
