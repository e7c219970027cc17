package testprint

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nantokaworks/labelprint/internal/profile"
)

// defaultLength is the label length in dots used when the profile has no
// tape preset (roughly 30mm at 203dpi).
const defaultLength = 240

// Build renders the built-in test label for a profile: border, model
// name, a grayscale gradient, a fine line pattern and a QR code. The
// output is grayscale; dithering happens downstream in the pipeline.
//
// 回転系プロファイルはエンコーダ側で90度回転されるため、ここでは
// ラベル向き（長辺が横）のまま描く。
func Build(prof profile.Profile) (*image.Gray, error) {
	var w, h int
	if prof.Rotated {
		h = prof.WidthDots()
		w = defaultLength
	} else {
		w = prof.WidthDots()
		h = prof.LabelHeightPreset()
		if h == 0 {
			h = defaultLength
		}
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	drawBorder(img, 2)

	// モデル名（ヘッドの欠けがあると文字が読めないので目視チェックに使える）
	drawText(img, 6, 16, fmt.Sprintf("%s %ddpi", prof.Model, prof.DPI))

	// Gradient band: reveals how each dither mode handles midtones.
	gradTop := 22
	gradBottom := gradTop + (h-gradTop-6)/2
	if gradBottom > gradTop+4 {
		for y := gradTop; y < gradBottom; y++ {
			for x := 4; x < w-4; x++ {
				img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / w)})
			}
		}
	}

	// 1-dot line pattern: smears here mean the inter-chunk delay is too
	// short for this printer.
	lineTop := gradBottom + 4
	lineBottom := lineTop + 12
	for y := lineTop; y < lineBottom && y < h-4; y++ {
		for x := 4; x < w-4; x++ {
			if x%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0x00})
			}
		}
	}

	if err := drawQR(img, prof.Model); err != nil {
		return nil, err
	}

	return img, nil
}

func drawBorder(img *image.Gray, thickness int) {
	b := img.Bounds()
	for t := 0; t < thickness; t++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetGray(x, b.Min.Y+t, color.Gray{Y: 0x00})
			img.SetGray(x, b.Max.Y-1-t, color.Gray{Y: 0x00})
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			img.SetGray(b.Min.X+t, y, color.Gray{Y: 0x00})
			img.SetGray(b.Max.X-1-t, y, color.Gray{Y: 0x00})
		}
	}
}

func drawText(img *image.Gray, x, y int, s string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawQR places a QR code in the bottom-right corner, sized to the
// remaining space. Threshold dithering must reproduce it scannably; if
// it does not, the profile's width or the transport chunking is wrong.
func drawQR(img *image.Gray, model string) error {
	b := img.Bounds()
	size := b.Dy() - 12
	if s := b.Dx() / 3; s < size {
		size = s
	}
	if size < 21 {
		// 物理的に小さすぎるラベルはQRなし
		return nil
	}

	qr, err := qrcode.New("labelprint:"+model, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to build test QR code: %w", err)
	}
	qr.DisableBorder = true

	qrImg := qr.Image(size)
	offset := image.Pt(b.Max.X-size-6, b.Max.Y-size-6)
	draw.Draw(img, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(size, size))}, qrImg, qrImg.Bounds().Min, draw.Src)
	return nil
}
