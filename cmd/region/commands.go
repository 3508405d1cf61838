package region

import (
	"fmt"
	"github.com/ValentinKolb/syslink/cmd/util"
	"github.com/ValentinKolb/syslink/ipc/sharedregion"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"strconv"
	"text/tabwriter"
)

var (
	showCmd = &cobra.Command{
		Use:   "show",
		Short: "Prints the configuration and every slot of the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.String())
			fmt.Println()
			return printTable(cmd.OutOrStdout(), table)
		},
	}
	translateCmd = &cobra.Command{
		Use:   "translate",
		Short: "Translates between local addresses and shared region pointers",
		Long:  "Translates a local address (--addr) or the offset into a region (--id, --offset) to a shared region pointer and back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				id   uint16
				addr uintptr
			)

			if s := viper.GetString("addr"); s != "" {
				v, err := strconv.ParseUint(s, 0, 64)
				if err != nil {
					return fmt.Errorf("addr must be a number: %w", err)
				}
				addr = uintptr(v)
				id = table.GetID(addr)
				if id == sharedregion.InvalidRegionID {
					return fmt.Errorf("0x%x is not in any region", addr)
				}
			} else {
				id = uint16(viper.GetUint("id"))
				offset := uint32(viper.GetUint("offset"))
				info, err := table.GetRegionInfo(id)
				if err != nil {
					return err
				}
				if !info.Entry.IsValid || offset >= info.Entry.Len {
					return fmt.Errorf("offset 0x%x is not in region %d", offset, id)
				}
				addr = info.Entry.Base + uintptr(offset)
			}

			p := table.GetSRPtr(addr, id)
			if !p.IsValid() {
				return fmt.Errorf("translate 0x%x: %v", addr, table.LastError())
			}
			back := table.GetPtr(p)
			fmt.Printf("region:  %d\naddress: 0x%x\nsrptr:   %s\nback:    0x%x\n", id, addr, p, back)
			return nil
		},
	}
	reserveCmd = &cobra.Command{
		Use:   "reserve",
		Short: "Reserves memory from the start of a region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uint16(viper.GetUint("id"))
			size := uint32(viper.GetUint("size"))
			count := int(viper.GetUint("count"))

			for i := 0; i < count; i++ {
				addr, err := table.ReserveMemory(id, size)
				if err != nil {
					return err
				}
				fmt.Printf("reserved 0x%x (%s)\n", addr, table.GetSRPtr(addr, id))
			}

			info, err := table.GetRegionInfo(id)
			if err != nil {
				return err
			}
			fmt.Printf("region %d: %d of %d bytes reserved\n", id, info.ReservedSize, info.Entry.Len)
			return nil
		},
	}
)

func init() {
	translateCmd.Flags().String("addr", "", util.WrapString("Local address to translate (decimal or 0x prefixed)"))
	translateCmd.Flags().Uint("id", 0, util.WrapString("Region of the offset, used when --addr is not set"))
	translateCmd.Flags().Uint("offset", 0, util.WrapString("Offset into the region, used when --addr is not set"))

	reserveCmd.Flags().Uint("id", 0, util.WrapString("Region to reserve memory from"))
	reserveCmd.Flags().Uint("size", 64, util.WrapString("Number of bytes to reserve, rounded up to the cache line size"))
	reserveCmd.Flags().Uint("count", 1, util.WrapString("How many blocks to reserve"))
}

// printTable writes one line per slot of the table
func printTable(out io.Writer, t *util.Table) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBASE\tLEN\tOWNER\tCACHE LINE\tRESERVED\tSRPTR\tHEAP")

	for id := uint16(0); id < t.GetNumRegions(); id++ {
		r, err := t.GetRegionInfo(id)
		if err != nil {
			return err
		}
		e := r.Entry
		if !e.IsValid {
			fmt.Fprintf(w, "%d\t-\t-\t-\t-\t-\t-\t-\t-\n", id)
			continue
		}

		owner := "any"
		if e.OwnerProcID != sharedregion.DefaultOwnerID {
			owner = strconv.Itoa(int(e.OwnerProcID))
		}
		cacheLine := "off"
		if e.CacheEnable {
			cacheLine = strconv.Itoa(int(e.CacheLineSize))
		}
		heapInfo := "-"
		if h, err := t.GetHeap(id); err == nil {
			s := h.Stats()
			heapInfo = fmt.Sprintf("%d/%d free", s.TotalFree, s.TotalSize)
		}

		fmt.Fprintf(w, "%d\t%s\t0x%x\t%d\t%s\t%s\t%d\t%s\t%s\n",
			id, e.Name, e.Base, e.Len, owner, cacheLine, r.ReservedSize, t.GetSRPtr(e.Base, id), heapInfo)
	}
	return w.Flush()
}
