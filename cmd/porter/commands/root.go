package commands

import (
	"fmt"
	"github.com/datagovtools/porter/internal/config"
	"github.com/datagovtools/porter/internal/version"
	"github.com/datagovtools/porter/pkg/logx"
	"github.com/spf13/cobra"
)

var (
	// Used for flags.
	flagConfig string

	rootCmd = &cobra.Command{
		Use:     "porter",
		Short:   "Moves catalog resources into S3-compatible storage",
		Long:    "Porter - moves a data catalog's resource files into S3-compatible storage and keeps the catalog records pointing at them",
		Version: fmt.Sprintf("%s (%s)", version.Number(), version.Commit()),
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "d", "", "config file path")

	// make flags mandatory
	_ = rootCmd.MarkPersistentFlagRequired("config")

	rootCmd.AddCommand(migrateCmd)
}

func initConfig() {
	var err error
	err = config.Initialize(flagConfig)
	if err != nil {
		fmt.Println("failed to initialize config")
		cobra.CheckErr(err)
	}

	err = logx.Initialize(config.Get().Log)
	if err != nil {
		fmt.Println(err)
		cobra.CheckErr(err)
	}

}
