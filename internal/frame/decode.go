package frame

// Decode parses exactly one frame from buf. Every fixed-width read is
// preceded by a length check, malformed input yields a *DecodeError.
func Decode(buf []byte) (Frame, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return nil, decodeErr(h.Type, err)
	}
	if h.StreamID != 0 && connectionOnly(h.Type) {
		return nil, decodeErr(h.Type, ErrStreamIDMismatch)
	}
	body := buf[HeaderLen:]
	switch h.Type {
	case TypeSetup:
		return decodeSetup(h, body)
	case TypeLease:
		return decodeLease(h, body)
	case TypeKeepalive:
		if len(body) < 8 {
			return nil, decodeErr(h.Type, ErrFrameTooShort)
		}
		return &Keepalive{
			Respond:              h.Flags.Has(FlagRespond),
			LastReceivedPosition: u64(body[0:8]),
			Data:                 dataOf(body[8:]),
		}, nil
	case TypeRequestResponse:
		metadata, data, err := splitPayload(h, body)
		if err != nil {
			return nil, err
		}
		return &RequestResponse{StreamID: h.StreamID, Follows: h.Flags.Has(FlagFollows), Metadata: metadata, Data: data}, nil
	case TypeRequestFNF:
		metadata, data, err := splitPayload(h, body)
		if err != nil {
			return nil, err
		}
		return &RequestFNF{StreamID: h.StreamID, Follows: h.Flags.Has(FlagFollows), Metadata: metadata, Data: data}, nil
	case TypeRequestStream:
		if len(body) < 4 {
			return nil, decodeErr(h.Type, ErrFrameTooShort)
		}
		metadata, data, err := splitPayload(h, body[4:])
		if err != nil {
			return nil, err
		}
		return &RequestStream{
			StreamID:        h.StreamID,
			Follows:         h.Flags.Has(FlagFollows),
			InitialRequestN: u32(body[0:4]) & MaxRequestN,
			Metadata:        metadata,
			Data:            data,
		}, nil
	case TypeRequestN:
		if len(body) < 4 {
			return nil, decodeErr(h.Type, ErrFrameTooShort)
		}
		return &RequestN{StreamID: h.StreamID, N: u32(body[0:4]) & MaxRequestN}, nil
	case TypeCancel:
		return &Cancel{StreamID: h.StreamID}, nil
	case TypePayload:
		metadata, data, err := splitPayload(h, body)
		if err != nil {
			return nil, err
		}
		return &Payload{
			StreamID: h.StreamID,
			Follows:  h.Flags.Has(FlagFollows),
			Complete: h.Flags.Has(FlagComplete),
			Next:     h.Flags.Has(FlagNext),
			Metadata: metadata,
			Data:     data,
		}, nil
	case TypeError:
		if len(body) < 4 {
			return nil, decodeErr(h.Type, ErrFrameTooShort)
		}
		return &Error{StreamID: h.StreamID, Code: knownErrorCode(u32(body[0:4])), Message: string(body[4:])}, nil
	case TypeResume:
		return decodeResume(h, body)
	case TypeResumeOK:
		if len(body) < 8 {
			return nil, decodeErr(h.Type, ErrFrameTooShort)
		}
		return &ResumeOK{LastReceivedClientPosition: u64(body[0:8])}, nil
	case TypeRequestChannel, TypeMetadataPush, TypeExt:
		return &Unsupported{Hdr: h, Body: body}, nil
	default:
		return nil, decodeErr(h.Type, ErrInvalidFrameType)
	}
}

// connectionOnly frame types are only valid on stream 0
func connectionOnly(t Type) bool {
	switch t {
	case TypeSetup, TypeLease, TypeKeepalive, TypeMetadataPush, TypeResume, TypeResumeOK:
		return true
	}
	return false
}

func dataOf(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// splitPayload reads the optional 24-bit length prefixed metadata block and
// returns the remainder as data
func splitPayload(h Header, body []byte) (metadata []byte, data []byte, err error) {
	if !h.Flags.Has(FlagMetadata) {
		return nil, dataOf(body), nil
	}
	if len(body) < 3 {
		return nil, nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	n := get24(body[0:3])
	if len(body) < 3+n {
		return nil, nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	return body[3 : 3+n : 3+n], dataOf(body[3+n:]), nil
}

func decodeSetup(h Header, body []byte) (Frame, error) {
	if len(body) < 12 {
		return nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	f := &Setup{
		MajorVersion:      u16(body[0:2]),
		MinorVersion:      u16(body[2:4]),
		KeepaliveInterval: u32(body[4:8]) & maxUint31,
		MaxLifetime:       u32(body[8:12]) & maxUint31,
		HonorsLease:       h.Flags.Has(FlagLease),
	}
	rest := body[12:]
	if h.Flags.Has(FlagResumeEnable) {
		if len(rest) < 2 {
			return nil, decodeErr(h.Type, ErrFrameTooShort)
		}
		n := int(u16(rest[0:2]))
		if len(rest) < 2+n {
			return nil, decodeErr(h.Type, ErrFrameTooShort)
		}
		f.ResumeToken = rest[2 : 2+n : 2+n]
		rest = rest[2+n:]
	}
	var ok bool
	if f.MetadataMimeType, rest, ok = readShortString(rest); !ok {
		return nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	if f.DataMimeType, rest, ok = readShortString(rest); !ok {
		return nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	var err error
	f.Metadata, f.Data, err = splitPayload(h, rest)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func readShortString(b []byte) (string, []byte, bool) {
	if len(b) < 1 {
		return "", nil, false
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, false
	}
	return string(b[1 : 1+n]), b[1+n:], true
}

func decodeLease(h Header, body []byte) (Frame, error) {
	if len(body) < 8 {
		return nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	f := &Lease{
		TTL:              u32(body[0:4]) & maxUint31,
		NumberOfRequests: u32(body[4:8]) & maxUint31,
	}
	if h.Flags.Has(FlagMetadata) {
		f.Metadata = body[8:len(body):len(body)]
	}
	return f, nil
}

func decodeResume(h Header, body []byte) (Frame, error) {
	if len(body) < 6 {
		return nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	n := int(u16(body[4:6]))
	if len(body) < 6+n+16 {
		return nil, decodeErr(h.Type, ErrFrameTooShort)
	}
	i := 6 + n
	return &Resume{
		MajorVersion:                 u16(body[0:2]),
		MinorVersion:                 u16(body[2:4]),
		Token:                        body[6:i:i],
		LastReceivedServerPosition:   u64(body[i : i+8]),
		FirstAvailableClientPosition: u64(body[i+8 : i+16]),
	}, nil
}
