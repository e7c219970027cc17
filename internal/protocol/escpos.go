package protocol

import (
	"time"

	"github.com/nantokaworks/labelprint/internal/profile"
)

// M-series ESC/POS command bytes. 16-bit fields are little-endian.
var (
	escposInit = []byte{0x1B, 0x40}
)

const (
	// M-series MCUs drop commands written back-to-back; each init
	// command gets a short pause and the whole sequence a longer settle
	// before raster data starts.
	interCommandDelay = 40 * time.Millisecond
	initSettleDelay   = 300 * time.Millisecond
)

// EscposLineSpacing builds ESC 3 n.
func EscposLineSpacing(n byte) []byte {
	return []byte{0x1B, 0x33, n}
}

// EscposAlign builds ESC a n (0 = left, 1 = center).
func EscposAlign(a profile.Alignment) []byte {
	var n byte
	if a == profile.AlignCenter {
		n = 1
	}
	return []byte{0x1B, 0x61, n}
}

// EscposDensity builds GS | level, level clamped to 1..8.
func EscposDensity(level int) []byte {
	return []byte{0x1D, 0x7C, clampDensity(level)}
}

// EscposRasterHeader builds GS v 0: 1D 76 30 00 wL wH hL hH.
func EscposRasterHeader(widthBytes, rows int) []byte {
	return []byte{
		0x1D, 0x76, 0x30, 0x00,
		byte(widthBytes & 0xFF), byte((widthBytes >> 8) & 0xFF),
		byte(rows & 0xFF), byte((rows >> 8) & 0xFF),
	}
}

// EscposFeed builds ESC J n, repeated when dots exceeds one command's
// 255-unit range.
func EscposFeed(dots int) []byte {
	if dots <= 0 {
		return nil
	}
	var out []byte
	for dots > 0 {
		n := dots
		if n > 255 {
			n = 255
		}
		out = append(out, 0x1B, 0x4A, byte(n))
		dots -= n
	}
	return out
}

// BuildInit returns the ESC/POS init sequence: INIT, LINE_SPACING(0),
// ALIGN, DENSITY, with the per-command pauses the hardware needs.
func BuildInit(prof profile.Profile, density int) Sequence {
	return Sequence{
		{Data: escposInit, DelayAfter: interCommandDelay},
		{Data: EscposLineSpacing(0), DelayAfter: interCommandDelay},
		{Data: EscposAlign(prof.Alignment), DelayAfter: interCommandDelay},
		{Data: EscposDensity(density), DelayAfter: initSettleDelay},
	}
}

func buildEscposPlan(prof profile.Profile, density, widthBytes, rows, feedDots int) Plan {
	return Plan{
		Init:    BuildInit(prof, density),
		Header:  EscposRasterHeader(widthBytes, rows),
		Trailer: Sequence{{Data: EscposFeed(feedDots)}},
	}
}
