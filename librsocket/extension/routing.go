package extension

import "fmt"

// EncodeRoutes encodes routing metadata, each tag prefixed by its length
func EncodeRoutes(tags ...string) ([]byte, error) {
	var b []byte
	for _, tag := range tags {
		if len(tag) == 0 || len(tag) > 0xFF {
			return nil, fmt.Errorf("route tag %q must be 1 to 255 bytes long", tag)
		}
		b = append(b, byte(len(tag)))
		b = append(b, tag...)
	}
	return b, nil
}

func DecodeRoutes(b []byte) ([]string, error) {
	var tags []string
	for pos := 0; pos < len(b); {
		n := int(b[pos])
		pos++
		if len(b)-pos < n {
			return nil, fmt.Errorf("%w: route tag of %v bytes truncated", ErrMalformed, n)
		}
		tags = append(tags, string(b[pos:pos+n]))
		pos += n
	}
	return tags, nil
}
