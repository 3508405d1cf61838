package cmd

import (
	"fmt"
	"github.com/ValentinKolb/syslink/cmd/rcm"
	"github.com/ValentinKolb/syslink/cmd/region"
	"github.com/ValentinKolb/syslink/cmd/util"
	"github.com/ValentinKolb/syslink/ipc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "syslink",
		Short: "shared region table and remote command client",
		Long: fmt.Sprintf(`syslink (v%s)

Inter processor communication building blocks written in Go: a table of
shared memory regions with portable pointers, and a client that runs
remote commands on a server processor over message queues.`, Version),
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of syslink",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("syslink v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	// run the logging setup before the setup of the command groups
	cobra.EnableTraverseRunHooks = true

	RootCmd.AddCommand(region.RegionCommands)
	RootCmd.AddCommand(rcm.RcmCommands)
	RootCmd.AddCommand(versionCmd)

	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("Log level of all packages (debug, info, warn, error)"))
}

// initLogging installs the package loggers with the configured level
func initLogging(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlag("log-level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
