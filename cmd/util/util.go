package util

import (
	"fmt"
	"github.com/ValentinKolb/syslink/ipc/common"
	"github.com/ValentinKolb/syslink/rcm/client"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strconv"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRegionFlags adds the flags describing a region table to a command
func SetupRegionFlags(cmd *cobra.Command) {
	key := "entries"
	cmd.PersistentFlags().Int(key, 4, WrapString("Number of slots in the region table"))

	key = "cache-line"
	cmd.PersistentFlags().Int(key, 128, WrapString("Default cache line size of every region (in bytes)"))

	key = "translate"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether shared region pointers are translated. Without translation a pointer is the local address itself"))

	key = "proc-id"
	cmd.PersistentFlags().Int(key, 0, WrapString("ID of the local processor"))

	key = "region"
	cmd.PersistentFlags().StringSlice(key, []string{"0=region0:1048576:heap"}, WrapString("Regions to create. Format: ID=NAME:SIZE[:cached][:heap], can be repeated or comma-separated"))
}

// SetupClientFlags adds the flags of the rcm client to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "server"
	cmd.PersistentFlags().String(key, "rcm_server", WrapString("Name of the inbound queue of the server"))

	key = "heap-id"
	cmd.PersistentFlags().Int(key, 0xFFFF, WrapString("Heap to allocate messages from. 65535 selects the heap by the processor of the server"))

	key = "msg-size"
	cmd.PersistentFlags().Int(key, 16, WrapString("Payload size of allocated messages (in bytes)"))

	key = "open-retries"
	cmd.PersistentFlags().Int(key, 0, WrapString("How many times to retry the lookup of the server queue"))

	key = "open-retry-interval"
	cmd.PersistentFlags().Duration(key, client.DefaultParams().OpenRetryInterval, WrapString("Pause between two lookups of the server queue"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("syslink")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// ParseRegionSpec parses a region in the format ID=NAME:SIZE[:cached][:heap]
func ParseRegionSpec(s string) (common.RegionSpec, error) {
	spec := common.RegionSpec{}

	idStr, rest, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return spec, fmt.Errorf("invalid region %q: expected ID=NAME:SIZE", s)
	}
	id, err := strconv.ParseUint(idStr, 10, 16)
	if err != nil {
		return spec, fmt.Errorf("invalid region id %q: %w", idStr, err)
	}
	spec.ID = uint16(id)

	parts := strings.Split(rest, ":")
	if len(parts) < 2 || parts[0] == "" {
		return spec, fmt.Errorf("invalid region %q: expected ID=NAME:SIZE", s)
	}
	spec.Name = parts[0]

	size, err := strconv.ParseUint(parts[1], 0, 32)
	if err != nil || size == 0 {
		return spec, fmt.Errorf("invalid region size %q", parts[1])
	}
	spec.Size = uint32(size)

	for _, flag := range parts[2:] {
		switch flag {
		case "cached":
			spec.CacheEnable = true
		case "heap":
			spec.CreateHeap = true
		default:
			return spec, fmt.Errorf("invalid region flag %q: must be one of cached, heap", flag)
		}
	}
	return spec, nil
}

// GetRegionConfig reads the region table configuration from viper
func GetRegionConfig() (*common.RegionConfig, error) {
	conf := &common.RegionConfig{
		NumEntries:    uint16(viper.GetInt("entries")),
		CacheLineSize: uint32(viper.GetInt("cache-line")),
		Translate:     viper.GetBool("translate"),
		ProcID:        uint16(viper.GetInt("proc-id")),
		LogLevel:      viper.GetString("log-level"),
	}

	seen := make(map[uint16]bool)
	for _, s := range viper.GetStringSlice("region") {
		if strings.TrimSpace(s) == "" {
			continue
		}
		spec, err := ParseRegionSpec(s)
		if err != nil {
			return nil, err
		}
		if spec.ID >= conf.NumEntries {
			return nil, fmt.Errorf("region %d out of range (table has %d entries)", spec.ID, conf.NumEntries)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("region %d specified twice", spec.ID)
		}
		seen[spec.ID] = true
		conf.Regions = append(conf.Regions, spec)
	}

	return conf, nil
}

// GetClientConfig reads the rcm client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		ServerName:        viper.GetString("server"),
		HeapID:            uint16(viper.GetInt("heap-id")),
		MsgSize:           viper.GetInt("msg-size"),
		OpenRetries:       viper.GetInt("open-retries"),
		OpenRetryInterval: viper.GetDuration("open-retry-interval"),
		LogLevel:          viper.GetString("log-level"),
	}
}

// ClientParams converts the client configuration into creation parameters
func ClientParams(conf *common.ClientConfig) client.Params {
	params := client.DefaultParams()
	params.HeapID = conf.HeapID
	if conf.OpenRetries > 0 {
		params.OpenRetries = uint64(conf.OpenRetries)
	}
	if conf.OpenRetryInterval > 0 {
		params.OpenRetryInterval = conf.OpenRetryInterval
	}
	return params
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
