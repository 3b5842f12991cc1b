package extension

import "fmt"

const maxPayloadLength = 1<<24 - 1

// Entry is one section of composite metadata
type Entry struct {
	MimeType string
	Payload  []byte
}

// AppendComposite appends the entries to an existing composite metadata
// buffer and returns the extended buffer.
func AppendComposite(b []byte, entries ...Entry) ([]byte, error) {
	var err error
	for _, e := range entries {
		if len(e.Payload) > maxPayloadLength {
			return nil, fmt.Errorf("payload of %v for %v exceeds 24 bit length", len(e.Payload), e.MimeType)
		}
		b, err = appendIdentifier(b, e.MimeType, wellKnownMimeTypes)
		if err != nil {
			return nil, err
		}
		b = append(b, byte(len(e.Payload)>>16), byte(len(e.Payload)>>8), byte(len(e.Payload)))
		b = append(b, e.Payload...)
	}
	return b, nil
}

func EncodeComposite(entries ...Entry) ([]byte, error) {
	return AppendComposite(nil, entries...)
}

// DecodeComposite splits composite metadata into its entries. The payloads
// alias b.
func DecodeComposite(b []byte) ([]Entry, error) {
	var entries []Entry
	for pos := 0; pos < len(b); {
		mime, n, err := readIdentifier(b[pos:], wellKnownMimeNames)
		if err != nil {
			return nil, err
		}
		pos += n
		if len(b)-pos < 3 {
			return nil, fmt.Errorf("%w: entry length of %v truncated", ErrMalformed, mime)
		}
		l := int(b[pos])<<16 | int(b[pos+1])<<8 | int(b[pos+2])
		pos += 3
		if len(b)-pos < l {
			return nil, fmt.Errorf("%w: entry %v declares %v bytes, %v left", ErrMalformed, mime, l, len(b)-pos)
		}
		entries = append(entries, Entry{MimeType: mime, Payload: b[pos : pos+l : pos+l]})
		pos += l
	}
	return entries, nil
}

// Find returns the payload of the first entry with the given MIME type
func Find(entries []Entry, mimeType string) ([]byte, bool) {
	for _, e := range entries {
		if e.MimeType == mimeType {
			return e.Payload, true
		}
	}
	return nil, false
}
