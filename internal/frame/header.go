// Package frame implements the RSocket wire format: the 6-byte frame header,
// one typed variant per frame type, a zero-copy send buffer and the
// receive-side reassembly of fragmented frames.
package frame

import (
	"encoding/binary"
	"fmt"
)

var u16 = binary.BigEndian.Uint16
var u32 = binary.BigEndian.Uint32
var u64 = binary.BigEndian.Uint64
var putU16 = binary.BigEndian.PutUint16
var putU32 = binary.BigEndian.PutUint32
var putU64 = binary.BigEndian.PutUint64

const (
	HeaderLen = 6

	// MaxStreamID is the largest value that fits the 31 usable bits of a stream id
	MaxStreamID = 0x7FFFFFFF
	// MaxRequestN means "unbounded" when used as a request count
	MaxRequestN = 0x7FFFFFFF
	// MaxMetadataLen is the largest metadata block a 24-bit length can describe
	MaxMetadataLen = 0xFFFFFF

	reservedBit = 0x80000000
	maxUint31   = 0x7FFFFFFF
)

type Type uint8

const (
	TypeReserved        Type = 0x00
	TypeSetup           Type = 0x01
	TypeLease           Type = 0x02
	TypeKeepalive       Type = 0x03
	TypeRequestResponse Type = 0x04
	TypeRequestFNF      Type = 0x05
	TypeRequestStream   Type = 0x06
	TypeRequestChannel  Type = 0x07
	TypeRequestN        Type = 0x08
	TypeCancel          Type = 0x09
	TypePayload         Type = 0x0A
	TypeError           Type = 0x0B
	TypeMetadataPush    Type = 0x0C
	TypeResume          Type = 0x0D
	TypeResumeOK        Type = 0x0E
	TypeExt             Type = 0x3F
)

var typeNames = map[Type]string{
	TypeSetup:           "SETUP",
	TypeLease:           "LEASE",
	TypeKeepalive:       "KEEPALIVE",
	TypeRequestResponse: "REQUEST_RESPONSE",
	TypeRequestFNF:      "REQUEST_FNF",
	TypeRequestStream:   "REQUEST_STREAM",
	TypeRequestChannel:  "REQUEST_CHANNEL",
	TypeRequestN:        "REQUEST_N",
	TypeCancel:          "CANCEL",
	TypePayload:         "PAYLOAD",
	TypeError:           "ERROR",
	TypeMetadataPush:    "METADATA_PUSH",
	TypeResume:          "RESUME",
	TypeResumeOK:        "RESUME_OK",
	TypeExt:             "EXT",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
}

// Flags holds the lower 10 bits of the type-and-flags field. Bits 7, 6 and 5
// carry a different meaning depending on the frame type.
type Flags uint16

const (
	FlagIgnore   Flags = 1 << 9
	FlagMetadata Flags = 1 << 8

	FlagFollows      Flags = 1 << 7
	FlagRespond      Flags = 1 << 7
	FlagResumeEnable Flags = 1 << 7
	FlagLease        Flags = 1 << 6
	FlagComplete     Flags = 1 << 6
	FlagNext         Flags = 1 << 5

	flagsMask = 0x3FF
)

func (f Flags) Has(flag Flags) bool { return f&flag == flag }

type Header struct {
	StreamID uint32
	Type     Type
	Flags    Flags
}

func (h Header) put(buf []byte) {
	putU32(buf[0:4], h.StreamID&MaxStreamID)
	putU16(buf[4:6], uint16(h.Type)<<10|uint16(h.Flags&flagsMask))
}

func (h Header) String() string {
	return fmt.Sprintf("%v{stream=%v flags=0x%03x}", h.Type, h.StreamID, uint16(h.Flags))
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, ErrFrameTooShort
	}
	sid := u32(buf[0:4])
	tf := u16(buf[4:6])
	h := Header{
		StreamID: sid & MaxStreamID,
		Type:     Type(tf >> 10),
		Flags:    Flags(tf & flagsMask),
	}
	if sid&reservedBit != 0 {
		return h, ErrReservedBitSet
	}
	return h, nil
}

// put24 and get24 handle the unsigned big-endian 24-bit lengths used for metadata
func put24(buf []byte, n int) {
	buf[0] = byte(n >> 16)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n)
}

func get24(buf []byte) int {
	return int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
}
