package protocol

import (
	"github.com/nantokaworks/labelprint/internal/profile"
)

// The D-series speaks the same raster framing as ESC/POS but with a
// stripped-down dialect: no density or align commands (ignored or
// unsupported), and on most firmware revisions INIT + raster header must
// arrive in the same write as the pixel data or the header is discarded.

// RotatedCombinedHeader builds INIT immediately followed by the raster
// header, intended for a single write together with the payload start.
func RotatedCombinedHeader(widthBytes, rows int) []byte {
	out := make([]byte, 0, len(escposInit)+8)
	out = append(out, escposInit...)
	out = append(out, EscposRasterHeader(widthBytes, rows)...)
	return out
}

func buildRotatedPlan(prof profile.Profile, widthBytes, rows, feedDots int) Plan {
	return Plan{
		// No separate init: everything rides in front of the payload.
		Header:              RotatedCombinedHeader(widthBytes, rows),
		CombinedHeaderWrite: prof.CombinedHeaderWrite,
		Trailer:             Sequence{{Data: EscposFeed(feedDots)}},
	}
}
