package edge

import "strings"

const (
	// RealExtension is the manifest suffix that crawlers look for.
	RealExtension = ".plist"
	// DefaultMarker replaces RealExtension in published URLs.
	DefaultMarker = ".p_list"
)

// Codec swaps the real manifest extension with an obfuscation marker.
// Marker must not contain RealExtension and vice versa.
type Codec struct {
	Marker string
}

var defaultCodec = Codec{Marker: DefaultMarker}

func (c Codec) marker() string {
	if c.Marker == "" {
		return DefaultMarker
	}
	return c.Marker
}

// Encode hides every RealExtension in u behind the marker.
func (c Codec) Encode(u string) string {
	return strings.ReplaceAll(u, RealExtension, c.marker())
}

// Decode restores every marker in u to RealExtension.
func (c Codec) Decode(u string) string {
	return strings.ReplaceAll(u, c.marker(), RealExtension)
}

// Obfuscated reports whether u carries the marker.
func (c Codec) Obfuscated(u string) bool {
	return strings.Contains(u, c.marker())
}

// EncodeExtension encodes u with DefaultMarker.
func EncodeExtension(u string) string {
	return defaultCodec.Encode(u)
}

// DecodeExtension decodes u with DefaultMarker.
func DecodeExtension(u string) string {
	return defaultCodec.Decode(u)
}
