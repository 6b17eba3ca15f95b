package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tryon/internal/shade"
	"github.com/andresmejia3/tryon/internal/utils"
)

var shadesCmd = &cobra.Command{
	Use:   "shades",
	Short: "Manage the shade catalog",
}

var shadesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all shades, including saved custom shades",
	Run: func(cmd *cobra.Command, args []string) {
		cat, err := loadCatalog(cmd.Context())
		if err != nil {
			utils.Die("Failed to load shades", err, nil)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tCOLOR")
		fmt.Fprintln(w, "--\t----\t--------\t-----")
		for _, s := range cat.All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Category, s.ColorHex)
		}
		w.Flush()
	},
}

var shadesAddCmd = &cobra.Command{
	Use:   "add <name> <#RRGGBB>",
	Short: "Save a custom shade",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if DB == nil {
			utils.Die("Custom shades need a database", fmt.Errorf("set --db or DATABASE_URL"), nil)
		}
		cat, err := loadCatalog(cmd.Context())
		if err != nil {
			utils.Die("Failed to load shades", err, nil)
		}
		s, err := cat.AddCustom(cmd.Context(), args[0], args[1])
		if err != nil {
			utils.Die("Failed to add shade", err, nil)
		}
		fmt.Printf("✅ Added '%s' (%s) as %s\n", s.Name, s.ColorHex, s.ID)
	},
}

var shadesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a saved custom shade",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if DB == nil {
			utils.Die("Custom shades need a database", fmt.Errorf("set --db or DATABASE_URL"), nil)
		}
		if isPredefined(args[0]) {
			utils.Die("Cannot remove a predefined shade", fmt.Errorf("shade %s is built in", args[0]), nil)
		}
		ok, err := DB.DeleteCustomShade(cmd.Context(), args[0])
		if err != nil {
			utils.Die("Failed to remove shade", err, nil)
		}
		if !ok {
			utils.Die("Shade not found", fmt.Errorf("no custom shade with id %s", args[0]), nil)
		}
		fmt.Printf("🗑️  Removed %s\n", args[0])
	},
}

func isPredefined(id string) bool {
	predefined, _ := shade.Predefined()
	for _, s := range predefined {
		if s.ID == id {
			return true
		}
	}
	return false
}

func init() {
	shadesCmd.AddCommand(shadesListCmd, shadesAddCmd, shadesRemoveCmd)
	rootCmd.AddCommand(shadesCmd)
}
