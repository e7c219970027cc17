package dither

import (
	"bytes"
	"image"
	"testing"
)

func grayImage(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestThresholdLevel(t *testing.T) {
	tests := []struct {
		name  string
		gray  uint8
		level uint8
		want  uint8
	}{
		{name: "below default level is black", gray: 127, level: 0, want: 0x00},
		{name: "at default level is white", gray: 128, level: 0, want: 0xFF},
		{name: "custom level below", gray: 63, level: 64, want: 0x00},
		{name: "custom level at", gray: 64, level: 64, want: 0xFF},
		{name: "pure black stays black", gray: 0, level: 0, want: 0x00},
		{name: "pure white stays white", gray: 255, level: 0, want: 0xFF},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			out := Apply(grayImage(4, 4, tc.gray), ModeThreshold, Options{Level: tc.level})
			if got := out.Pix[0]; got != tc.want {
				t.Fatalf("Apply(threshold) pixel = %#02x, want %#02x", got, tc.want)
			}
		})
	}
}

func TestThresholdIdempotent(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 7 % 256)
	}

	first := Apply(src, ModeThreshold, Options{})
	second := Apply(first, ModeThreshold, Options{})

	if !bytes.Equal(first.Pix, second.Pix) {
		t.Fatal("threshold dithering is not idempotent")
	}
}

func TestApplyDoesNotMutateSource(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 11 % 256)
	}
	before := make([]byte, len(src.Pix))
	copy(before, src.Pix)

	for _, mode := range []Mode{ModeThreshold, ModeFloydSteinberg, ModeAtkinson, ModeOrderedBayer} {
		Apply(src, mode, Options{})
		if !bytes.Equal(before, src.Pix) {
			t.Fatalf("mode %v mutated the source image", mode)
		}
	}
}

func TestApplyOutputIsBinary(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 256)
	}

	for _, mode := range []Mode{ModeAuto, ModeThreshold, ModeFloydSteinberg, ModeAtkinson, ModeOrderedBayer} {
		out := Apply(src, mode, Options{})
		for i, v := range out.Pix {
			if v != 0x00 && v != 0xFF {
				t.Fatalf("mode %v produced non-binary pixel %#02x at %d", mode, v, i)
			}
		}
	}
}

func TestSolidInputs(t *testing.T) {
	for _, mode := range []Mode{ModeThreshold, ModeFloydSteinberg, ModeAtkinson, ModeOrderedBayer} {
		black := Apply(grayImage(16, 16, 0), mode, Options{})
		for i, v := range black.Pix {
			if v != 0x00 {
				t.Fatalf("mode %v: solid black input produced %#02x at %d", mode, v, i)
			}
		}
		white := Apply(grayImage(16, 16, 255), mode, Options{})
		for i, v := range white.Pix {
			if v != 0xFF {
				t.Fatalf("mode %v: solid white input produced %#02x at %d", mode, v, i)
			}
		}
	}
}

func TestOrderedBayerPattern(t *testing.T) {
	// 2x2 matrix over constant mid-gray: thresholds are 32,160,224,96 so
	// the result is a fixed pattern, reproducible across calls.
	out := Apply(grayImage(2, 2, 128), ModeOrderedBayer, Options{MatrixSize: 2})
	want := []uint8{0xFF, 0x00, 0x00, 0xFF}
	for i, v := range want {
		if out.Pix[i] != v {
			t.Fatalf("bayer2 pixel %d = %#02x, want %#02x", i, out.Pix[i], v)
		}
	}

	again := Apply(grayImage(2, 2, 128), ModeOrderedBayer, Options{MatrixSize: 2})
	if !bytes.Equal(out.Pix, again.Pix) {
		t.Fatal("ordered dithering not reproducible across calls")
	}
}

func TestFloydSteinbergDiffusesError(t *testing.T) {
	// A constant 50% gray must not collapse to all white or all black:
	// the diffused error has to force a mix of both levels.
	out := Apply(grayImage(32, 32, 128), ModeFloydSteinberg, Options{})
	var blacks, whites int
	for _, v := range out.Pix {
		if v == 0x00 {
			blacks++
		} else {
			whites++
		}
	}
	if blacks == 0 || whites == 0 {
		t.Fatalf("mid-gray diffusion degenerated: %d black / %d white", blacks, whites)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"threshold", ModeThreshold},
		{"floyd_steinberg", ModeFloydSteinberg},
		{"fs", ModeFloydSteinberg},
		{"atkinson", ModeAtkinson},
		{"bayer", ModeOrderedBayer},
		{"auto", ModeAuto},
		{"", ModeAuto},
		{"garbage", ModeAuto},
	}
	for _, tc := range tests {
		if got := ParseMode(tc.in); got != tc.want {
			t.Fatalf("ParseMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
