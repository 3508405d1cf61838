package messageq

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Header layout (little endian)
//
//	0  size     uint32  size of the block including the header
//	4  version  uint16
//	6  seq      uint16  transport sequence number
//	8  heapID   uint16
//	10 srcProc  uint16
//	12 dstID    uint32
//	16 replyID  uint32
//	20 reserved
// --------------------------------------------------------------------------

const headerVersion uint16 = 1

// WriteHeader stores the routing information of msg in the first HeaderSize bytes of its block
func WriteHeader(msg *Msg, seq uint16) error {
	if len(msg.Block) < HeaderSize {
		return fmt.Errorf("%w: block of %d bytes has no room for the header", ErrInvalidMsg, len(msg.Block))
	}
	h := msg.Block[:HeaderSize]
	binary.LittleEndian.PutUint32(h[0:4], uint32(len(msg.Block)))
	binary.LittleEndian.PutUint16(h[4:6], headerVersion)
	binary.LittleEndian.PutUint16(h[6:8], seq)
	binary.LittleEndian.PutUint16(h[8:10], msg.HeapID)
	binary.LittleEndian.PutUint16(h[10:12], msg.SrcProc)
	binary.LittleEndian.PutUint32(h[12:16], uint32(msg.DstID))
	binary.LittleEndian.PutUint32(h[16:20], uint32(msg.ReplyID))
	clear(h[20:])
	return nil
}

// ReadHeader restores the routing information of msg from its block and returns the sequence number
func ReadHeader(msg *Msg) (uint16, error) {
	if len(msg.Block) < HeaderSize {
		return 0, fmt.Errorf("%w: block of %d bytes has no header", ErrInvalidMsg, len(msg.Block))
	}
	h := msg.Block[:HeaderSize]
	if v := binary.LittleEndian.Uint16(h[4:6]); v != headerVersion {
		return 0, fmt.Errorf("%w: header version %d", ErrInvalidMsg, v)
	}
	if size := binary.LittleEndian.Uint32(h[0:4]); size != uint32(len(msg.Block)) {
		return 0, fmt.Errorf("%w: header size %d, block size %d", ErrInvalidMsg, size, len(msg.Block))
	}
	msg.HeapID = binary.LittleEndian.Uint16(h[8:10])
	msg.SrcProc = binary.LittleEndian.Uint16(h[10:12])
	msg.DstID = QueueID(binary.LittleEndian.Uint32(h[12:16]))
	msg.ReplyID = QueueID(binary.LittleEndian.Uint32(h[16:20]))
	msg.Payload = msg.Block[HeaderSize:]
	return binary.LittleEndian.Uint16(h[6:8]), nil
}
