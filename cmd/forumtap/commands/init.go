package commands

import (
	"fmt"

	"github.com/dyluth/forumtap/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter forumtap.yml",
	Long: `Write a starter forumtap.yml with every section documented.

Only the Redis record store is enabled; uncomment the SQLite, Postgres,
blob or queue sinks as needed.

Use --force to overwrite an existing forumtap.yml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing forumtap.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write forumtap.yml into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := scaffold.Initialize(initDir, forceInit)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess(path)
	return nil
}
