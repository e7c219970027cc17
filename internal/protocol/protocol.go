package protocol

import (
	"time"

	"github.com/nantokaworks/labelprint/internal/profile"
)

// Segment is a chunk of command bytes plus the pause the printer MCU
// needs after it before the next write.
type Segment struct {
	Data       []byte
	DelayAfter time.Duration
}

// Sequence is an ordered list of command segments.
type Sequence []Segment

// Bytes concatenates all segment data, ignoring delays. Used for
// combined writes and tests.
func (s Sequence) Bytes() []byte {
	n := 0
	for _, seg := range s {
		n += len(seg.Data)
	}
	out := make([]byte, 0, n)
	for _, seg := range s {
		out = append(out, seg.Data...)
	}
	return out
}

// Plan is the complete delivery recipe for one encoded label: what to
// send before the raster payload, how to frame it, and what to send
// after. All of it is a pure function of the profile and packet shape.
type Plan struct {
	// Init is sent first, honoring per-segment delays (the MCU cannot
	// take back-to-back commands without a buffer-drain pause).
	Init Sequence

	// Header immediately precedes the raster payload.
	Header []byte

	// CombinedHeaderWrite means Header must share a single transport
	// write with the start of the payload: several rotated-family
	// firmwares discard a header that arrives as its own packet.
	CombinedHeaderWrite bool

	// InvertPayload: TSPL expects 0-bits to print black, the inverse of
	// the ESC/POS raster convention the encoder produces.
	InvertPayload bool

	// Trailer is sent after the payload (feed / print directives).
	Trailer Sequence
}

// BuildPlan assembles the family-specific plan for a packet of
// widthBytes × rows raster bytes.
func BuildPlan(prof profile.Profile, density, widthBytes, rows, feedDots int) Plan {
	switch prof.Family {
	case profile.FamilyRotated:
		return buildRotatedPlan(prof, widthBytes, rows, feedDots)
	case profile.FamilyTspl:
		return buildTsplPlan(prof, density, widthBytes, rows)
	default:
		return buildEscposPlan(prof, density, widthBytes, rows, feedDots)
	}
}

// BuildRasterHeader returns the bytes that immediately precede the
// raster payload for the profile's family.
func BuildRasterHeader(prof profile.Profile, widthBytes, rows int) []byte {
	switch prof.Family {
	case profile.FamilyRotated:
		return RotatedCombinedHeader(widthBytes, rows)
	case profile.FamilyTspl:
		return TsplBitmapHeader(widthBytes, rows)
	default:
		return EscposRasterHeader(widthBytes, rows)
	}
}

// BuildFeed returns the post-payload trailer for the profile's family.
func BuildFeed(prof profile.Profile, dots int) []byte {
	if prof.Family == profile.FamilyTspl {
		return TsplPrint()
	}
	return EscposFeed(dots)
}

func clampDensity(density int) byte {
	if density < 1 {
		return 1
	}
	if density > 8 {
		return 8
	}
	return byte(density)
}
