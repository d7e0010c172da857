package main

import (
	"context"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/reactcache/cmd/reactcache/cmds"
	"github.com/go-go-golems/reactcache/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "reactcache",
	Short: "reactcache caches chat reactions and answers queries over them",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		err := clay.InitLogger()
		cobra.CheckErr(err)
	},
}

func main() {
	config.SetDefaults(viper.GetViper())

	err := clay.InitViper("reactcache", rootCmd)
	cobra.CheckErr(err)
	err = clay.InitLogger()
	cobra.CheckErr(err)

	err = cmds.AddStoreFlags(rootCmd)
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		cmds.NewRescanCommand(),
		cmds.NewStatsCommand(),
		cmds.NewQueryCommand(),
		cmds.NewDumpCommand(),
		cmds.NewServeCommand(),
	)

	err = rootCmd.ExecuteContext(context.Background())
	cobra.CheckErr(err)
}
