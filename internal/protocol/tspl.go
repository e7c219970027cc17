package protocol

import (
	"fmt"

	"github.com/nantokaworks/labelprint/internal/profile"
)

// TSPL is line-oriented ASCII with one embedded binary block. The
// orchestrator must deliver the BITMAP directive and the raster bytes as
// one logical stream; TSPL also inverts the ink convention (0-bit =
// print), which Plan.InvertPayload signals.

// TsplDensity builds the DENSITY directive (level 1..8 maps directly).
func TsplDensity(level int) []byte {
	return []byte(fmt.Sprintf("DENSITY %d\r\n", clampDensity(level)))
}

// TsplSize builds the SIZE directive from dot dimensions at the given
// DPI, in whole millimeters (TSPL sizes labels in mm).
func TsplSize(widthDots, heightDots, dpi int) []byte {
	wMm := dotsToMm(widthDots, dpi)
	hMm := dotsToMm(heightDots, dpi)
	return []byte(fmt.Sprintf("SIZE %d mm,%d mm\r\n", wMm, hMm))
}

// TsplGap builds the GAP directive. Tape rolls are continuous (gap 0);
// die-cut shipping labels use a 2mm gap.
func TsplGap(gapMm int) []byte {
	return []byte(fmt.Sprintf("GAP %d mm,0 mm\r\n", gapMm))
}

// TsplBitmapHeader builds the BITMAP directive up to and including the
// comma that precedes the raw raster bytes (mode 0 = overwrite).
func TsplBitmapHeader(widthBytes, rows int) []byte {
	return []byte(fmt.Sprintf("BITMAP 0,0,%d,%d,0,", widthBytes, rows))
}

// TsplPrint builds the PRINT trailer (one set, one copy).
func TsplPrint() []byte {
	return []byte("\r\nPRINT 1,1\r\n")
}

func dotsToMm(dots, dpi int) int {
	if dpi <= 0 {
		dpi = 203
	}
	// 四捨五入（96dot@203dpiはちょうど12mmテープ幅扱い）
	return int(float64(dots)*25.4/float64(dpi) + 0.5)
}

func buildTsplPlan(prof profile.Profile, density, widthBytes, rows int) Plan {
	gap := 2
	if prof.TapeWidthMm != 0 {
		gap = 0 // continuous tape
	}

	var init Sequence
	init = append(init, Segment{Data: TsplSize(widthBytes*8, rows, int(prof.DPI))})
	init = append(init, Segment{Data: TsplGap(gap)})
	init = append(init, Segment{Data: TsplDensity(density)})
	init = append(init, Segment{Data: []byte("CLS\r\n"), DelayAfter: interCommandDelay})

	return Plan{
		Init:          init,
		Header:        TsplBitmapHeader(widthBytes, rows),
		InvertPayload: true,
		Trailer:       Sequence{{Data: TsplPrint()}},
	}
}
