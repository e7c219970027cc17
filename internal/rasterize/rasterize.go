package rasterize

import (
	"fmt"
	"image"

	"github.com/nantokaworks/labelprint/internal/profile"
)

// Packet is the device-shaped raster payload: Rows rows of exactly
// WidthBytes bytes, MSB-first, set bit = black. The protocol builder
// wraps it with the family-specific header and trailer.
type Packet struct {
	WidthBytes int
	Rows       int
	Data       []byte // len == WidthBytes*Rows
}

// Row returns row i as a subslice of Data.
func (p *Packet) Row(i int) []byte {
	off := i * p.WidthBytes
	return p.Data[off : off+p.WidthBytes]
}

// ClipWarning reports pixels dropped because the placed bitmap exceeded
// the printable width. Non-fatal: the packet is still correctly shaped.
type ClipWarning struct {
	PixelsLost int
}

func (w *ClipWarning) String() string {
	return fmt.Sprintf("raster clipped: %d pixels outside printable width", w.PixelsLost)
}

// Options adjusts bitmap placement inside the printable width.
type Options struct {
	MarginPx    int // left margin in dots, left-aligned profiles only
	OffsetBytes int // horizontal shift in whole bytes (8 dots each)
	VOffsetDots int // blank rows prepended before the bitmap
}

// Encode packs a black/white bitmap (0x00 = black, anything < 0x80 is
// treated as black) into device-width rows for the given profile.
//
// Rotated profiles get the bitmap transposed 90° clockwise first and no
// margin or centering: D-series firmware expects raw full-bleed rows and
// centers on its own. Out-of-range pixels are dropped and counted, never
// wrapped into the neighboring row.
func Encode(mono *image.Gray, prof profile.Profile, opts Options) (*Packet, *ClipWarning) {
	src := mono
	if prof.Rotated {
		src = rotate90(mono)
	}

	widthBytes := int(prof.WidthBytes)
	widthDots := widthBytes * 8
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	left := 0
	if !prof.Rotated {
		switch prof.Alignment {
		case profile.AlignLeft:
			left = opts.MarginPx + opts.OffsetBytes*8
		default: // AlignCenter
			left = (widthDots-w)/2 + opts.OffsetBytes*8
		}
	}

	voff := opts.VOffsetDots
	if voff < 0 {
		voff = 0
	}
	rows := h + voff

	// 一度に確保してインデックスで書く（行ごとのappendはしない）
	data := make([]byte, widthBytes*rows)
	lost := 0

	for y := 0; y < h; y++ {
		rowOff := (y + voff) * widthBytes
		srcOff := (bounds.Min.Y+y-src.Rect.Min.Y)*src.Stride + (bounds.Min.X - src.Rect.Min.X)
		for x := 0; x < w; x++ {
			if src.Pix[srcOff+x] >= 0x80 {
				continue // white, row bytes already zero
			}
			tx := left + x
			if tx < 0 || tx >= widthDots {
				lost++
				continue
			}
			data[rowOff+tx/8] |= 0x80 >> uint(tx%8)
		}
	}

	pkt := &Packet{WidthBytes: widthBytes, Rows: rows, Data: data}
	if lost > 0 {
		return pkt, &ClipWarning{PixelsLost: lost}
	}
	return pkt, nil
}

// rotate90 returns the source rotated 90° clockwise: the on-screen label
// top edge becomes the right edge, matching the D-series feed direction.
func rotate90(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < w; y++ { // dst rows
		for x := 0; x < h; x++ { // dst cols
			// dst(x, y) = src(y, h-1-x)
			dst.Pix[y*dst.Stride+x] = src.Pix[(b.Min.Y+h-1-x-src.Rect.Min.Y)*src.Stride+(b.Min.X+y-src.Rect.Min.X)]
		}
	}
	return dst
}
