package rcm

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/syslink/cmd/util"
	"github.com/ValentinKolb/syslink/rcm/client"
	"github.com/ValentinKolb/syslink/rcm/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"time"
)

var (
	execCmd = &cobra.Command{
		Use:   "exec",
		Short: "Runs one remote function and prints the reply",
		Long: `Resolves the function by name on the server and runs it with the given arguments.
The server provides fxnDouble (doubles the first argument), fxnAdd (adds the first two arguments) and fxnFail (always fails).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fxnArgs := viper.GetIntSlice("arg")
			mode := viper.GetString("mode")

			idx, err := rcmClient.GetSymbolIndex(viper.GetString("fxn"))
			if err != nil {
				return err
			}

			msg, err := rcmClient.Alloc(max(clientConf.MsgSize, 4*len(fxnArgs)))
			if err != nil {
				return err
			}
			msg.Packet().SetFxnIdx(idx)
			for i, a := range fxnArgs {
				binary.LittleEndian.PutUint32(msg.Data()[4*i:], uint32(a))
			}

			var jobID uint16
			if viper.GetBool("job") {
				if jobID, err = rcmClient.AcquireJobID(); err != nil {
					_ = rcmClient.Free(msg)
					return err
				}
				defer func() {
					if err := rcmClient.ReleaseJobID(jobID); err != nil {
						fmt.Printf("release job %d: %v\n", jobID, err)
					}
				}()
				msg.Packet().SetJobID(jobID)
				fmt.Printf("acquired job %d\n", jobID)
			}

			start := time.Now()
			var reply *common.Message
			switch mode {
			case "exec":
				reply, err = rcmClient.Exec(msg)
			case "dpc":
				reply, err = rcmClient.ExecDpc(msg)
			case "nowait":
				var msgID uint16
				if msgID, err = rcmClient.ExecNoWait(msg); err != nil {
					_ = rcmClient.Free(msg)
					break
				}
				fmt.Printf("sent message %d\n", msgID)
				reply, err = rcmClient.WaitUntilDone(msgID)
			case "cmd":
				err = execCommand(msg)
			default:
				_ = rcmClient.Free(msg)
				return fmt.Errorf("invalid mode %s: must be one of exec, dpc, nowait, cmd", mode)
			}
			elapsed := time.Since(start)
			if reply == nil && (mode == "exec" || mode == "dpc") && client.Unsent(err) {
				_ = rcmClient.Free(msg)
			}

			if reply != nil {
				printReply(reply)
				if ferr := rcmClient.Free(reply); ferr != nil {
					fmt.Printf("free reply: %v\n", ferr)
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("done in %s\n", elapsed)
			return nil
		},
	}
)

func init() {
	execCmd.Flags().String("fxn", "fxnDouble", util.WrapString("Name of the remote function"))
	execCmd.Flags().IntSlice("arg", []int{21}, util.WrapString("Arguments, written as little endian uint32 values into the message data"))
	execCmd.Flags().String("mode", "exec", util.WrapString("How to run the function (exec, dpc, nowait, cmd)"))
	execCmd.Flags().Bool("job", false, util.WrapString("Run the function in a job acquired for the call"))
}

// execCommand sends msg without a reply and polls the error queue for a short while
func execCommand(msg *common.Message) error {
	if err := rcmClient.ExecCmd(msg); err != nil {
		_ = rcmClient.Free(msg)
		return err
	}
	fmt.Println("command sent")

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		errMsg, err := rcmClient.CheckForError()
		if errMsg != nil {
			fmt.Println("error reply:")
			printReply(errMsg)
			_ = rcmClient.Free(errMsg)
			return err
		}
		if err != nil {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Println("no error reported")
	return nil
}

func printReply(msg *common.Message) {
	p := msg.Packet()
	desc := p.Descriptor()
	fmt.Printf("message: %d\n", p.MsgID())
	fmt.Printf("kind:    %s\n", desc.Kind)
	fmt.Printf("status:  %s\n", desc.Status)
	fmt.Printf("job:     %d\n", p.JobID())
	fmt.Printf("result:  %d\n", p.Result())
	if data := msg.Data(); len(data) >= 4 {
		fmt.Printf("data[0]: %d\n", binary.LittleEndian.Uint32(data))
	}
}
