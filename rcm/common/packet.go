package common

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/syslink/ipc/messageq"
)

// --------------------------------------------------------------------------
// Packet layout (little endian), placed in messageq.Msg.Payload
//
//	0  desc      uint16  kind (bits 8..11) and server status (bits 12..15)
//	2  msgId     uint16
//	4  poolId    uint16
//	6  jobId     uint16
//	8  fxnIdx    uint32
//	12 result    int32
//	16 dataSize  uint32
//	20 data
// --------------------------------------------------------------------------

// PacketHeaderSize is the size of the rcm header in front of the data area
const PacketHeaderSize = 20

// HeaderSize is the size of all headers in front of the data area of a message
const HeaderSize = messageq.HeaderSize + PacketHeaderSize

// Packet is a view on the payload of a transport message
type Packet []byte

// Valid reports whether the packet can hold the header and the data size it announces
func (p Packet) Valid() error {
	if len(p) < PacketHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortPacket, len(p))
	}
	if size := p.DataSize(); int(size) > len(p)-PacketHeaderSize {
		return fmt.Errorf("%w: data size %d exceeds %d bytes", ErrShortPacket, size, len(p)-PacketHeaderSize)
	}
	return nil
}

// Init resets the header for a new request
func (p Packet) Init(msgID uint16, dataSize uint32) {
	p.SetDescriptor(Descriptor{})
	p.SetMsgID(msgID)
	p.SetPoolID(DefaultPoolID)
	p.SetJobID(DiscreteJobID)
	p.SetFxnIdx(InvalidFxnIdx)
	p.SetResult(0)
	p.SetDataSize(dataSize)
}

// Descriptor returns the decoded descriptor
func (p Packet) Descriptor() Descriptor {
	return DecodeDescriptor(binary.LittleEndian.Uint16(p[0:2]))
}

func (p Packet) SetDescriptor(d Descriptor) {
	binary.LittleEndian.PutUint16(p[0:2], d.Encode())
}

// Classify stamps the message kind. A packet can only be classified once.
func (p Packet) Classify(kind MessageKind) error {
	if kind == KindNone || kind > KindCmd {
		return fmt.Errorf("%w: %d", ErrInvalidMessageKind, kind)
	}
	d := p.Descriptor()
	if d.Kind != KindNone {
		return fmt.Errorf("%w as %s", ErrAlreadyClassified, d.Kind)
	}
	d.Kind = kind
	p.SetDescriptor(d)
	return nil
}

// SetStatus stores the server status, used by servers on replies
func (p Packet) SetStatus(status ServerStatus) {
	d := p.Descriptor()
	d.Status = status
	p.SetDescriptor(d)
}

func (p Packet) MsgID() uint16 { return binary.LittleEndian.Uint16(p[2:4]) }

func (p Packet) SetMsgID(id uint16) { binary.LittleEndian.PutUint16(p[2:4], id) }

func (p Packet) PoolID() uint16 { return binary.LittleEndian.Uint16(p[4:6]) }

func (p Packet) SetPoolID(id uint16) { binary.LittleEndian.PutUint16(p[4:6], id) }

func (p Packet) JobID() uint16 { return binary.LittleEndian.Uint16(p[6:8]) }

func (p Packet) SetJobID(id uint16) { binary.LittleEndian.PutUint16(p[6:8], id) }

func (p Packet) FxnIdx() uint32 { return binary.LittleEndian.Uint32(p[8:12]) }

func (p Packet) SetFxnIdx(i uint32) { binary.LittleEndian.PutUint32(p[8:12], i) }

func (p Packet) Result() int32 { return int32(binary.LittleEndian.Uint32(p[12:16])) }

func (p Packet) SetResult(r int32) { binary.LittleEndian.PutUint32(p[12:16], uint32(r)) }

func (p Packet) DataSize() uint32 { return binary.LittleEndian.Uint32(p[16:20]) }

func (p Packet) SetDataSize(n uint32) { binary.LittleEndian.PutUint32(p[16:20], n) }

// Data returns the data area as announced by the data size, capped to the packet
func (p Packet) Data() []byte {
	end := PacketHeaderSize + int(p.DataSize())
	if end > len(p) {
		end = len(p)
	}
	return p[PacketHeaderSize:end]
}

// --------------------------------------------------------------------------
// Message
// --------------------------------------------------------------------------

// Message is a transport message carrying an rcm packet
type Message struct {
	*messageq.Msg
}

// WrapMessage checks that msg carries a packet and wraps it
func WrapMessage(msg *messageq.Msg) (*Message, error) {
	if msg == nil {
		return nil, messageq.ErrInvalidMsg
	}
	if err := Packet(msg.Payload).Valid(); err != nil {
		return nil, err
	}
	return &Message{Msg: msg}, nil
}

// Packet returns the packet view of the payload
func (m *Message) Packet() Packet {
	return Packet(m.Payload)
}

// Data returns the data area of the packet
func (m *Message) Data() []byte {
	return m.Packet().Data()
}

// String implements fmt.Stringer
func (m *Message) String() string {
	p := m.Packet()
	return fmt.Sprintf("msg{id=%d %s pool=0x%x job=%d fxn=0x%x result=%d size=%d}",
		p.MsgID(), p.Descriptor(), p.PoolID(), p.JobID(), p.FxnIdx(), p.Result(), p.DataSize())
}
