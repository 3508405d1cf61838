package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Region table configuration struct
// --------------------------------------------------------------------------

// RegionSpec describes one shared region that should be created and entered into the table
type RegionSpec struct {
	// ID is the index of the region in the table
	ID uint16
	// Name of the region (also used as the name of the backing segment)
	Name string
	// Size of the region in bytes
	Size uint32
	// CacheEnable marks the region as cached
	CacheEnable bool
	// CreateHeap makes the driver create a message heap in the region
	CreateHeap bool
}

// RegionConfig holds all parameters needed to set up a region table
type RegionConfig struct {
	NumEntries    uint16
	CacheLineSize uint32
	Translate     bool

	// ProcID is the id of the local processor
	ProcID uint16

	Regions []RegionSpec

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *RegionConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Region Table")
	addField("Entries", strconv.Itoa(int(c.NumEntries)))
	addField("Cache Line Size", fmt.Sprintf("%d bytes", c.CacheLineSize))
	addField("Translate", strconv.FormatBool(c.Translate))
	addField("Processor", strconv.Itoa(int(c.ProcID)))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Regions")
	for _, r := range c.Regions {
		flags := make([]string, 0, 2)
		if r.CacheEnable {
			flags = append(flags, "cached")
		}
		if r.CreateHeap {
			flags = append(flags, "heap")
		}
		addField(strconv.Itoa(int(r.ID)), fmt.Sprintf("%s (%d bytes) %s", r.Name, r.Size, strings.Join(flags, ",")))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RCM client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	// ServerName is the name of the inbound queue of the remote server
	ServerName string
	// HeapID selects the message heap, 0xFFFF resolves it from the server processor
	HeapID uint16
	// MsgSize is the default payload size for allocated messages
	MsgSize int

	// OpenRetries is the number of additional lookups of the server queue
	OpenRetries       int
	OpenRetryInterval time.Duration

	LogLevel string
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Server", c.ServerName)
	if c.HeapID == 0xFFFF {
		addField("Heap", "default (by server processor)")
	} else {
		addField("Heap", strconv.Itoa(int(c.HeapID)))
	}
	addField("Message Size", fmt.Sprintf("%d bytes", c.MsgSize))
	addField("Open Retries", strconv.Itoa(c.OpenRetries))
	addField("Open Retry Interval", c.OpenRetryInterval.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
