package extension

// EncodeDataMimeTypes encodes the per-stream data MIME type list carried
// under MimeTypeMimeType or MimeTypeAcceptMimeTypes.
func EncodeDataMimeTypes(mimeTypes ...string) ([]byte, error) {
	var b []byte
	var err error
	for _, m := range mimeTypes {
		b, err = appendIdentifier(b, m, wellKnownMimeTypes)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func DecodeDataMimeTypes(b []byte) ([]string, error) {
	var mimeTypes []string
	for pos := 0; pos < len(b); {
		m, n, err := readIdentifier(b[pos:], wellKnownMimeNames)
		if err != nil {
			return nil, err
		}
		mimeTypes = append(mimeTypes, m)
		pos += n
	}
	return mimeTypes, nil
}
