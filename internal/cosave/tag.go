package cosave

import "fmt"

// Tag identifies a record type. Tags are four ASCII characters packed big-endian,
// so MakeTag("BIAD") == 0x42494144.
type Tag uint32

func MakeTag(s string) Tag {
	var t Tag
	for i := 0; i < 4; i++ {
		t <<= 8
		if i < len(s) {
			t |= Tag(s[i])
		}
	}
	return t
}

func (t Tag) String() string {
	b := [4]byte{byte(t >> 24), byte(t >> 16), byte(t >> 8), byte(t)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08X", uint32(t))
		}
	}
	return string(b[:])
}

const (
	// FormatVersion is the stream framing version written by this package.
	FormatVersion uint32 = 1
)

var (
	streamMagic = MakeTag("PCSV")
	// PluginID marks streams written by this module.
	PluginID = MakeTag("BPAP")
)
