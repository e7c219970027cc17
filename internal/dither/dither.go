package dither

import (
	"image"
	"image/color"
)

// Mode selects the grayscale to black/white conversion algorithm.
type Mode int

const (
	// ModeAuto lets the caller pick: Floyd-Steinberg for photo-ish labels,
	// forced to ModeThreshold by the orchestrator for TSPL printers where
	// diffusion would blur barcode edges.
	ModeAuto Mode = iota
	ModeThreshold
	ModeFloydSteinberg
	ModeAtkinson
	ModeOrderedBayer
)

func (m Mode) String() string {
	switch m {
	case ModeThreshold:
		return "threshold"
	case ModeFloydSteinberg:
		return "floyd_steinberg"
	case ModeAtkinson:
		return "atkinson"
	case ModeOrderedBayer:
		return "bayer"
	default:
		return "auto"
	}
}

// ParseMode maps a config/API string to a Mode. Unknown values fall back
// to ModeAuto.
func ParseMode(s string) Mode {
	switch s {
	case "threshold":
		return ModeThreshold
	case "floyd_steinberg", "floydsteinberg", "fs":
		return ModeFloydSteinberg
	case "atkinson":
		return ModeAtkinson
	case "bayer", "ordered", "ordered_bayer":
		return ModeOrderedBayer
	default:
		return ModeAuto
	}
}

// Options carries the per-mode parameters.
type Options struct {
	// Level is the threshold for ModeThreshold: a pixel is black iff
	// gray < Level. Zero means the default of 128.
	Level uint8

	// MatrixSize is the Bayer matrix size (2, 4 or 8). Zero means 4.
	MatrixSize int
}

func (o Options) level() uint8 {
	if o.Level == 0 {
		return 128
	}
	return o.Level
}

func (o Options) matrixSize() int {
	switch o.MatrixSize {
	case 2, 4, 8:
		return o.MatrixSize
	default:
		return 4
	}
}

// Apply converts src to a pure black/white grayscale image. Every output
// pixel is exactly 0x00 (black) or 0xFF (white). The source image is never
// modified and no state survives between calls.
//
// ModeAuto is resolved to Floyd-Steinberg here; callers that need the
// TSPL threshold override must substitute the mode before calling.
func Apply(src image.Image, mode Mode, opts Options) *image.Gray {
	gray := toGray(src)

	switch mode {
	case ModeThreshold:
		threshold(gray, opts.level())
	case ModeAtkinson:
		atkinson(gray)
	case ModeOrderedBayer:
		orderedBayer(gray, opts.matrixSize())
	default: // ModeAuto, ModeFloydSteinberg
		floydSteinberg(gray)
	}
	return gray
}

// toGray copies src into a fresh grayscale buffer with origin (0,0).
// This is the single full-size allocation; the diffusion passes reuse it
// as their working buffer.
func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if g, ok := src.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()],
				g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):])
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Pix[y*dst.Stride+x] = color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return dst
}

func threshold(img *image.Gray, level uint8) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x, v := range row {
			if v < level {
				row[x] = 0x00
			} else {
				row[x] = 0xFF
			}
		}
	}
}

// floydSteinberg runs row-major error diffusion with the classic
// 7/16, 3/16, 5/16, 1/16 kernel. Errors are held in two small row
// buffers; nothing carries over to the next image.
func floydSteinberg(img *image.Gray) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	cur := make([]int, w)
	next := make([]int, w)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x := 0; x < w; x++ {
			old := int(row[x]) + cur[x]
			var q int // quantized value
			if old < 128 {
				q = 0
			} else {
				q = 255
			}
			row[x] = uint8(q)
			err := old - q

			if x+1 < w {
				cur[x+1] += err * 7 / 16
			}
			if x-1 >= 0 {
				next[x-1] += err * 3 / 16
			}
			next[x] += err * 5 / 16
			if x+1 < w {
				next[x+1] += err * 1 / 16
			}
		}
		cur, next = next, cur
		for i := range next {
			next[i] = 0
		}
	}
}

// atkinson distributes 6/8 of each pixel's quantization error forward
// (1/8 each to two right neighbors, three on the next row, one two rows
// down) and discards the remaining 2/8, which lifts the overall output.
func atkinson(img *image.Gray) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	rows := [3][]int{make([]int, w), make([]int, w), make([]int, w)}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		r0, r1, r2 := rows[0], rows[1], rows[2]
		for x := 0; x < w; x++ {
			old := int(row[x]) + r0[x]
			var q int
			if old < 128 {
				q = 0
			} else {
				q = 255
			}
			row[x] = uint8(q)
			part := (old - q) / 8

			if x+1 < w {
				r0[x+1] += part
			}
			if x+2 < w {
				r0[x+2] += part
			}
			if x-1 >= 0 {
				r1[x-1] += part
			}
			r1[x] += part
			if x+1 < w {
				r1[x+1] += part
			}
			r2[x] += part
		}
		rows[0], rows[1], rows[2] = rows[1], rows[2], rows[0]
		for i := range rows[2] {
			rows[2][i] = 0
		}
	}
}

// Classic index matrices; thresholds are pre-scaled to the 0-255 range
// at lookup time.
var bayer2 = [2][2]int{
	{0, 2},
	{3, 1},
}

var bayer4 = [4][4]int{
	{0, 8, 2, 10},
	{12, 4, 14, 6},
	{3, 11, 1, 9},
	{15, 7, 13, 5},
}

var bayer8 = [8][8]int{
	{0, 32, 8, 40, 2, 34, 10, 42},
	{48, 16, 56, 24, 50, 18, 58, 26},
	{12, 44, 4, 36, 14, 46, 6, 38},
	{60, 28, 52, 20, 62, 30, 54, 22},
	{3, 35, 11, 43, 1, 33, 9, 41},
	{51, 19, 59, 27, 49, 17, 57, 25},
	{15, 47, 7, 39, 13, 45, 5, 37},
	{63, 31, 55, 23, 61, 29, 53, 21},
}

func bayerThreshold(n, x, y int) int {
	var v int
	switch n {
	case 2:
		v = bayer2[y%2][x%2]
	case 8:
		v = bayer8[y%8][x%8]
	default:
		v = bayer4[y%4][x%4]
	}
	cells := n * n
	scale := 256 / cells
	return v*scale + scale/2
}

// orderedBayer is fully position-determined: identical input pixels at
// identical coordinates always quantize the same way, which makes output
// reproducible across images at the cost of shadow detail.
func orderedBayer(img *image.Gray, n int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x := 0; x < w; x++ {
			if int(row[x]) < bayerThreshold(n, x, y) {
				row[x] = 0x00
			} else {
				row[x] = 0xFF
			}
		}
	}
}
