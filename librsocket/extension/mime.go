// Package extension encodes and decodes the metadata extensions layered on
// top of RSocket payloads: composite metadata, routing tags, stream data MIME
// types and authentication.
package extension

import (
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed extension metadata")

// Well-known MIME types used by composite metadata
const (
	MimeTypeJSON                   = "application/json"
	MimeTypeOctetStream            = "application/octet-stream"
	MimeTypeMimeType               = "message/x.rsocket.mime-type.v0"
	MimeTypeAcceptMimeTypes        = "message/x.rsocket.accept-mime-types.v0"
	MimeTypeAuthentication         = "message/x.rsocket.authentication.v0"
	MimeTypeTracingZipkin          = "message/x.rsocket.tracing-zipkin.v0"
	MimeTypeRouting                = "message/x.rsocket.routing.v0"
	MimeTypeCompositeMetadata      = "message/x.rsocket.composite-metadata.v0"
	wellKnownFlag             byte = 0x80
)

var wellKnownMimeTypes = map[string]byte{
	"application/avro":                     0x00,
	"application/cbor":                     0x01,
	"application/graphql":                  0x02,
	"application/gzip":                     0x03,
	"application/javascript":               0x04,
	MimeTypeJSON:                           0x05,
	MimeTypeOctetStream:                    0x06,
	"application/pdf":                      0x07,
	"application/vnd.apache.thrift.binary": 0x08,
	"application/vnd.google.protobuf":      0x09,
	"application/xml":                      0x0A,
	"application/zip":                      0x0B,
	"audio/aac":                            0x0C,
	"audio/mp3":                            0x0D,
	"audio/mp4":                            0x0E,
	"audio/mpeg3":                          0x0F,
	"audio/mpeg":                           0x10,
	"audio/ogg":                            0x11,
	"audio/opus":                           0x12,
	"audio/vorbis":                         0x13,
	"image/bmp":                            0x14,
	"image/gif":                            0x15,
	"image/heic-sequence":                  0x16,
	"image/heic":                           0x17,
	"image/heif-sequence":                  0x18,
	"image/heif":                           0x19,
	"image/jpeg":                           0x1A,
	"image/png":                            0x1B,
	"image/tiff":                           0x1C,
	"multipart/mixed":                      0x1D,
	"text/css":                             0x1E,
	"text/csv":                             0x1F,
	"text/html":                            0x20,
	"text/plain":                           0x21,
	"text/xml":                             0x22,
	"video/H264":                           0x23,
	"video/H265":                           0x24,
	"video/VP8":                            0x25,
	"application/x-hessian":                0x26,
	"application/x-java-object":            0x27,
	"application/cloudevents+json":         0x28,
	"application/x-capnp":                  0x29,
	"application/x-flatbuffers":            0x2A,
	MimeTypeMimeType:                       0x7A,
	MimeTypeAcceptMimeTypes:                0x7B,
	MimeTypeAuthentication:                 0x7C,
	MimeTypeTracingZipkin:                  0x7D,
	MimeTypeRouting:                        0x7E,
	MimeTypeCompositeMetadata:              0x7F,
}

var wellKnownMimeNames = func() map[byte]string {
	m := make(map[byte]string, len(wellKnownMimeTypes))
	for name, id := range wellKnownMimeTypes {
		m[id] = name
	}
	return m
}()

// MimeTypeID returns the 7-bit id of a well-known MIME type
func MimeTypeID(name string) (byte, bool) {
	id, ok := wellKnownMimeTypes[name]
	return id, ok
}

// MimeTypeName is the inverse of MimeTypeID
func MimeTypeName(id byte) (string, bool) {
	name, ok := wellKnownMimeNames[id&^wellKnownFlag]
	return name, ok
}

// appendIdentifier writes name as a well-known id with the top bit set, or as
// a length prefixed ASCII string
func appendIdentifier(b []byte, name string, ids map[string]byte) ([]byte, error) {
	if id, ok := ids[name]; ok {
		return append(b, id|wellKnownFlag), nil
	}
	if len(name) == 0 || len(name) > 0x7F {
		return nil, fmt.Errorf("identifier %q must be 1 to 127 bytes long", name)
	}
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7F {
			return nil, fmt.Errorf("identifier %q is not ASCII", name)
		}
	}
	b = append(b, byte(len(name)))
	return append(b, name...), nil
}

// readIdentifier is the inverse of appendIdentifier. It returns the number of
// bytes consumed.
func readIdentifier(b []byte, names map[byte]string) (string, int, error) {
	if len(b) == 0 {
		return "", 0, fmt.Errorf("%w: missing identifier", ErrMalformed)
	}
	if b[0]&wellKnownFlag != 0 {
		name, ok := names[b[0]&^wellKnownFlag]
		if !ok {
			return "", 0, fmt.Errorf("%w: unknown well-known id 0x%02x", ErrMalformed, b[0]&^wellKnownFlag)
		}
		return name, 1, nil
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", 0, fmt.Errorf("%w: identifier of %v bytes truncated", ErrMalformed, n)
	}
	return string(b[1 : 1+n]), 1 + n, nil
}
