package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbcore/internal/cli"
	"github.com/cloo-solutions/kbcore/internal/cli/admin"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbcored",
		Short: "kbcore knowledge-base daemon and CLI",
		Long: `kbcored serves the knowledge-base HTTP API and runs ingestion, search and
maintenance tasks against the same store.

Configuration is read from KBCORE_* environment variables and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd(admin.DefaultApp))
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.IngestCmd(admin.DefaultApp))
	rootCmd.AddCommand(admin.SearchCmd(admin.DefaultApp))
	rootCmd.AddCommand(admin.DeleteCmd(admin.DefaultApp))

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
