package frame

import (
	"fmt"
)

// Frame is one decoded or to-be-encoded wire frame. Byte slices held by a
// decoded frame alias the buffer it was decoded from.
type Frame interface {
	Header() Header
	Encode() (*Segments, error)
}

// Metadata is nil when absent. A non-nil empty slice is encoded as present
// zero-length metadata.
func metadataFlag(metadata []byte) Flags {
	if metadata != nil {
		return FlagMetadata
	}
	return 0
}

func boolFlag(b bool, flag Flags) Flags {
	if b {
		return flag
	}
	return 0
}

// encode lays out header, fixed fields, the optional metadata block and data.
// Only the header and fixed fields are copied, metadata and data are appended
// as separate chunks.
func encode(h Header, fixedLen int, metadata, data []byte, fill func(fixed []byte)) (*Segments, error) {
	if len(metadata) > MaxMetadataLen {
		return nil, fmt.Errorf("%v metadata of %v bytes: %w", h.Type, len(metadata), ErrFrameTooLarge)
	}
	prefixLen := HeaderLen + fixedLen
	if metadata != nil {
		prefixLen += 3
	}
	prefix := make([]byte, prefixLen)
	h.put(prefix)
	if fill != nil {
		fill(prefix[HeaderLen : HeaderLen+fixedLen])
	}
	if metadata != nil {
		put24(prefix[HeaderLen+fixedLen:], len(metadata))
	}
	s := &Segments{chunks: make([][]byte, 0, 3)}
	s.Append(prefix)
	s.Append(metadata)
	s.Append(data)
	return s, nil
}

// Marshal encodes f into a single contiguous buffer
func Marshal(f Frame) ([]byte, error) {
	s, err := f.Encode()
	if err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

type Setup struct {
	MajorVersion      uint16
	MinorVersion      uint16
	KeepaliveInterval uint32 // milliseconds
	MaxLifetime       uint32 // milliseconds
	HonorsLease       bool
	// ResumeToken is nil when resumption is not requested
	ResumeToken      []byte
	MetadataMimeType string
	DataMimeType     string
	Metadata         []byte
	Data             []byte
}

func (f *Setup) Header() Header {
	return Header{
		Type: TypeSetup,
		Flags: metadataFlag(f.Metadata) |
			boolFlag(f.ResumeToken != nil, FlagResumeEnable) |
			boolFlag(f.HonorsLease, FlagLease),
	}
}

func (f *Setup) Encode() (*Segments, error) {
	if len(f.ResumeToken) > 0xFFFF {
		return nil, fmt.Errorf("resume token of %v bytes: %w", len(f.ResumeToken), ErrFrameTooLarge)
	}
	if len(f.MetadataMimeType) > 0xFF || len(f.DataMimeType) > 0xFF {
		return nil, fmt.Errorf("mime type longer than 255 bytes: %w", ErrFrameTooLarge)
	}
	fixedLen := 12 + 2 + len(f.MetadataMimeType) + len(f.DataMimeType)
	if f.ResumeToken != nil {
		fixedLen += 2 + len(f.ResumeToken)
	}
	return encode(f.Header(), fixedLen, f.Metadata, f.Data, func(b []byte) {
		putU16(b[0:2], f.MajorVersion)
		putU16(b[2:4], f.MinorVersion)
		putU32(b[4:8], f.KeepaliveInterval&maxUint31)
		putU32(b[8:12], f.MaxLifetime&maxUint31)
		i := 12
		if f.ResumeToken != nil {
			putU16(b[i:], uint16(len(f.ResumeToken)))
			i += 2
			i += copy(b[i:], f.ResumeToken)
		}
		b[i] = byte(len(f.MetadataMimeType))
		i++
		i += copy(b[i:], f.MetadataMimeType)
		b[i] = byte(len(f.DataMimeType))
		i++
		copy(b[i:], f.DataMimeType)
	})
}

type Lease struct {
	TTL              uint32 // milliseconds
	NumberOfRequests uint32
	Metadata         []byte
}

func (f *Lease) Header() Header {
	return Header{Type: TypeLease, Flags: metadataFlag(f.Metadata)}
}

// Lease metadata is not length-prefixed, it runs to the end of the frame
func (f *Lease) Encode() (*Segments, error) {
	return encode(f.Header(), 8, nil, f.Metadata, func(b []byte) {
		putU32(b[0:4], f.TTL&maxUint31)
		putU32(b[4:8], f.NumberOfRequests&maxUint31)
	})
}

type Keepalive struct {
	Respond              bool
	LastReceivedPosition uint64
	Data                 []byte
}

func (f *Keepalive) Header() Header {
	return Header{Type: TypeKeepalive, Flags: boolFlag(f.Respond, FlagRespond)}
}

func (f *Keepalive) Encode() (*Segments, error) {
	return encode(f.Header(), 8, nil, f.Data, func(b []byte) {
		putU64(b, f.LastReceivedPosition)
	})
}

type RequestResponse struct {
	StreamID uint32
	Follows  bool
	Metadata []byte
	Data     []byte
}

func (f *RequestResponse) Header() Header {
	return Header{StreamID: f.StreamID, Type: TypeRequestResponse, Flags: metadataFlag(f.Metadata) | boolFlag(f.Follows, FlagFollows)}
}

func (f *RequestResponse) Encode() (*Segments, error) {
	return encode(f.Header(), 0, f.Metadata, f.Data, nil)
}

type RequestFNF struct {
	StreamID uint32
	Follows  bool
	Metadata []byte
	Data     []byte
}

func (f *RequestFNF) Header() Header {
	return Header{StreamID: f.StreamID, Type: TypeRequestFNF, Flags: metadataFlag(f.Metadata) | boolFlag(f.Follows, FlagFollows)}
}

func (f *RequestFNF) Encode() (*Segments, error) {
	return encode(f.Header(), 0, f.Metadata, f.Data, nil)
}

type RequestStream struct {
	StreamID        uint32
	Follows         bool
	InitialRequestN uint32
	Metadata        []byte
	Data            []byte
}

func (f *RequestStream) Header() Header {
	return Header{StreamID: f.StreamID, Type: TypeRequestStream, Flags: metadataFlag(f.Metadata) | boolFlag(f.Follows, FlagFollows)}
}

func (f *RequestStream) Encode() (*Segments, error) {
	return encode(f.Header(), 4, f.Metadata, f.Data, func(b []byte) {
		putU32(b, f.InitialRequestN&MaxRequestN)
	})
}

type RequestN struct {
	StreamID uint32
	N        uint32
}

func (f *RequestN) Header() Header {
	return Header{StreamID: f.StreamID, Type: TypeRequestN}
}

func (f *RequestN) Encode() (*Segments, error) {
	return encode(f.Header(), 4, nil, nil, func(b []byte) {
		putU32(b, f.N&MaxRequestN)
	})
}

type Cancel struct {
	StreamID uint32
}

func (f *Cancel) Header() Header {
	return Header{StreamID: f.StreamID, Type: TypeCancel}
}

func (f *Cancel) Encode() (*Segments, error) {
	return encode(f.Header(), 0, nil, nil, nil)
}

type Payload struct {
	StreamID uint32
	Follows  bool
	Complete bool
	Next     bool
	Metadata []byte
	Data     []byte
}

func (f *Payload) Header() Header {
	return Header{
		StreamID: f.StreamID,
		Type:     TypePayload,
		Flags: metadataFlag(f.Metadata) |
			boolFlag(f.Follows, FlagFollows) |
			boolFlag(f.Complete, FlagComplete) |
			boolFlag(f.Next, FlagNext),
	}
}

func (f *Payload) Encode() (*Segments, error) {
	return encode(f.Header(), 0, f.Metadata, f.Data, nil)
}

type Error struct {
	StreamID uint32
	Code     ErrorCode
	Message  string
}

func (f *Error) Header() Header {
	return Header{StreamID: f.StreamID, Type: TypeError}
}

func (f *Error) Encode() (*Segments, error) {
	return encode(f.Header(), 4, nil, []byte(f.Message), func(b []byte) {
		putU32(b, uint32(f.Code))
	})
}

func (f *Error) Error() string {
	return fmt.Sprintf("%v: %v", f.Code, f.Message)
}

type Resume struct {
	MajorVersion                 uint16
	MinorVersion                 uint16
	Token                        []byte
	LastReceivedServerPosition   uint64
	FirstAvailableClientPosition uint64
}

func (f *Resume) Header() Header {
	return Header{Type: TypeResume}
}

func (f *Resume) Encode() (*Segments, error) {
	if len(f.Token) > 0xFFFF {
		return nil, fmt.Errorf("resume token of %v bytes: %w", len(f.Token), ErrFrameTooLarge)
	}
	return encode(f.Header(), 6+len(f.Token)+16, nil, nil, func(b []byte) {
		putU16(b[0:2], f.MajorVersion)
		putU16(b[2:4], f.MinorVersion)
		putU16(b[4:6], uint16(len(f.Token)))
		i := 6 + copy(b[6:], f.Token)
		putU64(b[i:i+8], f.LastReceivedServerPosition)
		putU64(b[i+8:i+16], f.FirstAvailableClientPosition)
	})
}

type ResumeOK struct {
	LastReceivedClientPosition uint64
}

func (f *ResumeOK) Header() Header {
	return Header{Type: TypeResumeOK}
}

func (f *ResumeOK) Encode() (*Segments, error) {
	return encode(f.Header(), 8, nil, nil, func(b []byte) {
		putU64(b, f.LastReceivedClientPosition)
	})
}

// Unsupported carries frame types this implementation recognises but does not
// handle: REQUEST_CHANNEL, METADATA_PUSH and EXT.
type Unsupported struct {
	Hdr  Header
	Body []byte
}

func (f *Unsupported) Header() Header { return f.Hdr }

func (f *Unsupported) Encode() (*Segments, error) {
	return encode(f.Hdr, 0, nil, f.Body, nil)
}
