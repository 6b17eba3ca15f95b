package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tryon/internal/utils"
)

var (
	resetDB        bool
	resetSnapshots bool
	resetYes       bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored state (custom shades, snapshot records, snapshot files)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetSnapshots {
			resetDB = true
			resetSnapshots = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			switch {
			case DB == nil:
				fmt.Println("ℹ️  No database configured, skipping.")
			case confirm(reader, "⚠️  Are you sure you want to DROP all database tables?"):
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetSnapshots {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all snapshots in %s?", cfg.Snapshot.Dir)) {
				fmt.Println("🗑️  Clearing Snapshots...")
				removeDir(cfg.Snapshot.Dir)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "database", false, "Drop custom shade and snapshot tables")
	resetCmd.Flags().BoolVar(&resetSnapshots, "snapshots", false, "Delete saved snapshot files")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
