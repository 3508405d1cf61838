package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Protocol Constants
// --------------------------------------------------------------------------

const (
	// MaxNameLen is the maximum length of a server name including the terminating byte
	MaxNameLen = 32

	// DefaultPoolID selects the default worker pool of the server
	DefaultPoolID uint16 = 0x8000
	// DiscreteJobID marks a message that does not belong to a job
	DiscreteJobID uint16 = 0
	// InvalidFxnIdx marks a message whose function index has not been set
	InvalidFxnIdx uint32 = 0xFFFFFFFF
	// DefaultHeapID lets the client pick the heap from Params.DefaultHeapIDs
	DefaultHeapID uint16 = 0xFFFF

	// MinDataSize is the smallest data area of a packet (one machine word)
	MinDataSize = 4
)

var (
	ErrShortPacket        = errors.New("rcm: packet too short")
	ErrAlreadyClassified  = errors.New("rcm: packet already classified")
	ErrInvalidMessageKind = errors.New("rcm: invalid message kind")
)

// --------------------------------------------------------------------------
// Message Kind Definition
// --------------------------------------------------------------------------

// MessageKind classifies a packet. Every packet is classified exactly once before it is sent.
type MessageKind uint8

const (
	KindNone        MessageKind = 0x0 // Not yet classified
	KindExec        MessageKind = 0x1 // Execute a remote function, the reply carries the result
	KindDpc         MessageKind = 0x2 // Execute a remote function in deferred context
	KindSymbolAdd   MessageKind = 0x3 // Register a symbol on the server
	KindSymbolIndex MessageKind = 0x4 // Look up the function index of a symbol
	KindShutdown    MessageKind = 0x5 // Stop the server
	KindConnect     MessageKind = 0x6 // Connect to the server
	KindJobAcquire  MessageKind = 0x7 // Acquire a job id
	KindJobRelease  MessageKind = 0x8 // Release a job id
	KindCmd         MessageKind = 0x9 // Fire and forget, only errors are replied
)

// String returns the string representation of a MessageKind.
func (k MessageKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindExec:
		return "exec"
	case KindDpc:
		return "dpc"
	case KindSymbolAdd:
		return "symbolAdd"
	case KindSymbolIndex:
		return "symbolIndex"
	case KindShutdown:
		return "shutdown"
	case KindConnect:
		return "connect"
	case KindJobAcquire:
		return "jobAcquire"
	case KindJobRelease:
		return "jobRelease"
	case KindCmd:
		return "cmd"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageKind.
func (k MessageKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageKind.
func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "none":
		*k = KindNone
	case "exec":
		*k = KindExec
	case "dpc":
		*k = KindDpc
	case "symbolAdd":
		*k = KindSymbolAdd
	case "symbolIndex":
		*k = KindSymbolIndex
	case "shutdown":
		*k = KindShutdown
	case "connect":
		*k = KindConnect
	case "jobAcquire":
		*k = KindJobAcquire
	case "jobRelease":
		*k = KindJobRelease
	case "cmd":
		*k = KindCmd
	default:
		return fmt.Errorf("unknown message kind: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Server Status Definition
// --------------------------------------------------------------------------

// ServerStatus is set by the server on every reply
type ServerStatus uint8

const (
	StatusSuccess        ServerStatus = iota // The function was executed
	StatusUnprocessed                        // The server did not process the message
	StatusError                              // Generic server error
	StatusInvalidFxn                         // The function index is unknown
	StatusSymbolNotFound                     // The symbol is not registered
	StatusInvalidMsgType                     // The message kind is not supported by the server
	StatusMsgFxnErr                          // The function returned an error
	StatusJobNotFound                        // The job id is unknown
	StatusPoolNotFound                       // The pool id is unknown
)

// String returns the string representation of a ServerStatus.
func (s ServerStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnprocessed:
		return "unprocessed"
	case StatusError:
		return "error"
	case StatusInvalidFxn:
		return "invalidFxn"
	case StatusSymbolNotFound:
		return "symbolNotFound"
	case StatusInvalidMsgType:
		return "invalidMsgType"
	case StatusMsgFxnErr:
		return "msgFxnErr"
	case StatusJobNotFound:
		return "jobNotFound"
	case StatusPoolNotFound:
		return "poolNotFound"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for ServerStatus.
func (s ServerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for ServerStatus.
func (s *ServerStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	for status := StatusSuccess; status <= StatusPoolNotFound; status++ {
		if status.String() == str {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown server status: %s", str)
}

// --------------------------------------------------------------------------
// Descriptor
// --------------------------------------------------------------------------

const (
	descKindShift   = 8
	descStatusShift = 12
	descFieldMask   = 0xF
)

// Descriptor is the decoded form of the packet descriptor word
type Descriptor struct {
	Kind   MessageKind  `json:"kind"`
	Status ServerStatus `json:"status"`
}

// DecodeDescriptor splits the descriptor word into kind and status
func DecodeDescriptor(desc uint16) Descriptor {
	return Descriptor{
		Kind:   MessageKind((desc >> descKindShift) & descFieldMask),
		Status: ServerStatus((desc >> descStatusShift) & descFieldMask),
	}
}

// Encode packs the descriptor into its wire form
func (d Descriptor) Encode() uint16 {
	return uint16(d.Kind&descFieldMask)<<descKindShift | uint16(d.Status&descFieldMask)<<descStatusShift
}

// String implements fmt.Stringer
func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%s", d.Kind, d.Status)
}
