package extension

import (
	"encoding/binary"
	"fmt"
)

const (
	AuthTypeSimple = "simple"
	AuthTypeBearer = "bearer"
)

var wellKnownAuthTypes = map[string]byte{
	AuthTypeSimple: 0x00,
	AuthTypeBearer: 0x01,
}

var wellKnownAuthNames = map[byte]string{
	0x00: AuthTypeSimple,
	0x01: AuthTypeBearer,
}

// EncodeAuthentication encodes authentication metadata. Well-known auth types
// are written as an id, anything else as a length prefixed ASCII name.
func EncodeAuthentication(authType string, payload []byte) ([]byte, error) {
	b, err := appendIdentifier(make([]byte, 0, 1+len(authType)+len(payload)), authType, wellKnownAuthTypes)
	if err != nil {
		return nil, err
	}
	return append(b, payload...), nil
}

func DecodeAuthentication(b []byte) (authType string, payload []byte, err error) {
	authType, n, err := readIdentifier(b, wellKnownAuthNames)
	if err != nil {
		return "", nil, err
	}
	return authType, b[n:], nil
}

// EncodeSimple builds simple authentication metadata
func EncodeSimple(username string, password []byte) ([]byte, error) {
	if len(username) > 0xFFFF {
		return nil, fmt.Errorf("username of %v bytes too long", len(username))
	}
	p := make([]byte, 2, 2+len(username)+len(password))
	binary.BigEndian.PutUint16(p, uint16(len(username)))
	p = append(p, username...)
	p = append(p, password...)
	return EncodeAuthentication(AuthTypeSimple, p)
}

// DecodeSimple parses the payload of simple authentication metadata
func DecodeSimple(payload []byte) (username string, password []byte, err error) {
	if len(payload) < 2 {
		return "", nil, fmt.Errorf("%w: simple auth too short", ErrMalformed)
	}
	n := int(binary.BigEndian.Uint16(payload))
	if len(payload)-2 < n {
		return "", nil, fmt.Errorf("%w: username of %v bytes truncated", ErrMalformed, n)
	}
	return string(payload[2 : 2+n]), payload[2+n:], nil
}

func EncodeBearer(token string) ([]byte, error) {
	return EncodeAuthentication(AuthTypeBearer, []byte(token))
}
