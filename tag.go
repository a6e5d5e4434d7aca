package roughtime

import "github.com/axwalt/roughtime/internal/wire"

// Wire tags, as little-endian uint32s of their 4-byte ASCII keys. PAD uses
// a trailing 0xFF byte rather than NUL (PAD\xff); SIG uses a trailing NUL
// (SIG\x00). Both are load-bearing and must match byte for byte across
// implementations.
const (
	tagSIG  = wire.Tag(0x00474953)
	tagNONC = wire.Tag(0x434e4f4e)
	tagDELE = wire.Tag(0x454c4544)
	tagPATH = wire.Tag(0x48544150)
	tagRADI = wire.Tag(0x49444152)
	tagPUBK = wire.Tag(0x4b425550)
	tagMIDP = wire.Tag(0x5044494d)
	tagSREP = wire.Tag(0x50455253)
	tagMAXT = wire.Tag(0x5458414d)
	tagROOT = wire.Tag(0x544f4f52)
	tagCERT = wire.Tag(0x54524543)
	tagMINT = wire.Tag(0x544e494d)
	tagINDX = wire.Tag(0x58444e49)
	tagPAD  = wire.Tag(0xff444150)
)

// schema classifies every tag Roughtime messages can carry, per nesting
// context: "" is the top level (a Request or a Reply), and SREP/CERT/DELE
// are the three sub-messages a Reply can nest. Any tag not listed here, or
// listed outside its proper context, is rejected with wire.ErrUnknownTag.
func schema(ctx string, t wire.Tag) (wire.Kind, bool) {
	switch ctx {
	case "":
		switch t {
		case tagNONC, tagPAD, tagSIG, tagINDX, tagPATH:
			return wire.KindOpaque, true
		case tagSREP, tagCERT:
			return wire.KindNested, true
		}
	case "SREP":
		switch t {
		case tagROOT, tagMIDP, tagRADI:
			return wire.KindOpaque, true
		}
	case "CERT":
		switch t {
		case tagSIG:
			return wire.KindOpaque, true
		case tagDELE:
			return wire.KindNested, true
		}
	case "DELE":
		switch t {
		case tagMINT, tagMAXT, tagPUBK:
			return wire.KindOpaque, true
		}
	}
	return 0, false
}
