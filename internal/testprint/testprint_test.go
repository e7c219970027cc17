package testprint

import (
	"image/color"
	"testing"

	"github.com/nantokaworks/labelprint/internal/profile"
)

func TestBuildMatchesProfileWidth(t *testing.T) {
	p, _ := profile.ByModel("M260")
	img, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := img.Bounds().Dx(); got != p.WidthDots() {
		t.Fatalf("width = %d, want %d", got, p.WidthDots())
	}
}

func TestBuildRotatedUsesWidthAsHeight(t *testing.T) {
	p, _ := profile.ByModel("D30")
	img, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Pre-rotation orientation: label length horizontal, printable
	// width vertical.
	if got := img.Bounds().Dy(); got != p.WidthDots() {
		t.Fatalf("height = %d, want %d", got, p.WidthDots())
	}
	if img.Bounds().Dx() <= img.Bounds().Dy() {
		t.Fatal("rotated test label should be wider than tall")
	}
}

func TestBuildTapePresetHeight(t *testing.T) {
	p, _ := profile.ByModel("P12")
	img, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := img.Bounds().Dy(); got != p.LabelHeightPreset() {
		t.Fatalf("height = %d, want preset %d", got, p.LabelHeightPreset())
	}
}

func TestBuildHasBorder(t *testing.T) {
	p, _ := profile.ByModel("M110")
	img, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b := img.Bounds()
	corners := [][2]int{{0, 0}, {b.Max.X - 1, 0}, {0, b.Max.Y - 1}, {b.Max.X - 1, b.Max.Y - 1}}
	for _, c := range corners {
		if img.GrayAt(c[0], c[1]) != (color.Gray{Y: 0}) {
			t.Fatalf("corner (%d,%d) not black", c[0], c[1])
		}
	}
}
