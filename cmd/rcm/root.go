package rcm

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/syslink/cmd/util"
	"github.com/ValentinKolb/syslink/ipc/common"
	"github.com/ValentinKolb/syslink/ipc/messageq/local"
	"github.com/ValentinKolb/syslink/rcm/client"
	"github.com/ValentinKolb/syslink/rcm/rcmtest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	// hostProcID is the processor of the client, serverProcID the one of the function server
	hostProcID   uint16 = 0
	serverProcID uint16 = 1
)

var (
	table      *util.Table
	server     *rcmtest.Server
	rcmClient  *client.RcmClient
	clientConf *common.ClientConfig

	// RcmCommands represents the rcm command group
	RcmCommands = &cobra.Command{
		Use:   "rcm",
		Short: "Run remote commands against an in-process function server",
		Long: `Set up a region table, create a message heap in region 0 and start a function server on a second processor of an in-process transport.
The client connects to the server by name and the subcommands run remote commands through it.
The configuration can also be set via environment variables in the format SYSLINK_<flag> (e.g. SYSLINK_SERVER=dsp_server)`,
		PersistentPreRunE: setupRcm,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	cobra.OnFinalize(func() {
		if err := teardownRcm(); err != nil {
			fmt.Fprintf(os.Stderr, "teardown: %v\n", err)
		}
	})

	util.SetupRegionFlags(RcmCommands)
	util.SetupClientFlags(RcmCommands)

	key := "workers"
	RcmCommands.PersistentFlags().Int(key, 2, util.WrapString("Number of goroutines serving the server queue"))
	key = "max-delay"
	RcmCommands.PersistentFlags().Duration(key, 0, util.WrapString("Delays every reply of the server by a random duration up to this value, so replies arrive out of order"))

	RcmCommands.AddCommand(execCmd)
	RcmCommands.AddCommand(perfTestCmd)
}

// setupRcm creates the region table, the transport, the server and the client
func setupRcm(cmd *cobra.Command, _ []string) (err error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	regionConf, err := util.GetRegionConfig()
	if err != nil {
		return err
	}
	clientConf = util.GetClientConfig()

	defer func() {
		if err != nil {
			_ = teardownRcm()
		}
	}()

	table, err = util.OpenTable(regionConf)
	if err != nil {
		return err
	}

	h, err := table.GetHeap(0)
	if err != nil {
		return fmt.Errorf("message heap: %w", err)
	}

	// both processors see the same heap, registered under every default heap id
	bus := local.NewBus()
	for _, id := range client.DefaultParams().DefaultHeapIDs {
		bus.RegisterHeap(id, h)
	}

	server, err = rcmtest.NewServer(clientConf.ServerName, bus.Endpoint(serverProcID), rcmtest.ServerOptions{
		Workers:  viper.GetInt("workers"),
		MaxDelay: viper.GetDuration("max-delay"),
	})
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	server.RegisterBuiltins()
	server.Start()

	rcmClient, err = client.NewRcmClient(clientConf.ServerName, util.ClientParams(clientConf), bus.Endpoint(hostProcID))
	return err
}

// teardownRcm releases everything created by setupRcm in reverse order
func teardownRcm() error {
	var errs []error
	if rcmClient != nil {
		errs = append(errs, rcmClient.Delete())
		rcmClient = nil
	}
	if server != nil {
		errs = append(errs, server.Stop())
		server = nil
	}
	if table != nil {
		errs = append(errs, table.Close())
		table = nil
	}
	return errors.Join(errs...)
}
