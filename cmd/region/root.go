package region

import (
	"fmt"
	"github.com/ValentinKolb/syslink/cmd/util"
	"github.com/ValentinKolb/syslink/ipc/common"
	"github.com/spf13/cobra"
	"os"
)

var (
	table  *util.Table
	config *common.RegionConfig

	// RegionCommands represents the region command group
	RegionCommands = &cobra.Command{
		Use:   "region",
		Short: "Inspect a shared region table",
		Long: `Set up a shared region table from the given flags, back every region with a shared memory segment and run an operation on it.
The configuration can also be set via environment variables in the format SYSLINK_<flag> (e.g. SYSLINK_CACHE_LINE=64)`,
		PersistentPreRunE: setupTable,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	cobra.OnFinalize(func() {
		if err := closeTable(); err != nil {
			fmt.Fprintf(os.Stderr, "close table: %v\n", err)
		}
	})

	util.SetupRegionFlags(RegionCommands)

	RegionCommands.AddCommand(showCmd)
	RegionCommands.AddCommand(translateCmd)
	RegionCommands.AddCommand(reserveCmd)
}

// setupTable creates the region table used by the subcommands
func setupTable(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	config, err = util.GetRegionConfig()
	if err != nil {
		return err
	}

	table, err = util.OpenTable(config)
	return err
}

// closeTable releases the table and its segments
func closeTable() error {
	if table == nil {
		return nil
	}
	err := table.Close()
	table = nil
	return err
}
