package detections

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Tutortoise/object-detection-service/models"
)

// palette is the Ultralytics default box palette, indexed by class.
var palette = []color.RGBA{
	hex(0xFF3838), hex(0xFF9D97), hex(0xFF701F), hex(0xFFB21D), hex(0xCFD231),
	hex(0x48F90A), hex(0x92CC17), hex(0x3DDB86), hex(0x1A9334), hex(0x00D4BB),
	hex(0x2C99A8), hex(0x00C2FF), hex(0x344593), hex(0x6473FF), hex(0x0018EC),
	hex(0x8438FF), hex(0x520085), hex(0xCB38FF), hex(0xFF95C8), hex(0xFF37C7),
}

func hex(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// ColorFor returns the box colour used for a class index.
func ColorFor(classIndex int) color.RGBA {
	if classIndex < 0 {
		classIndex = -classIndex
	}
	return palette[classIndex%len(palette)]
}

// Annotator draws detections onto a copy of the source image.
type Annotator struct {
	face      font.Face
	textColor color.Color
	padding   int
}

func NewAnnotator() *Annotator {
	return &Annotator{
		face:      basicfont.Face7x13,
		textColor: color.White,
		padding:   2,
	}
}

// LineWidth scales the box outline with the image size, never thinner than 2px.
func LineWidth(bounds image.Rectangle) int {
	return max(int(math.Round(float64(bounds.Dx()+bounds.Dy())/2*0.003)), 2)
}

// Annotate returns an RGBA copy of img with one outlined box and caption per
// detection. boxes and dets are parallel slices.
func (a *Annotator) Annotate(img image.Image, boxes []Box, dets []models.Detection) *image.RGBA {
	bounds := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)

	lw := LineWidth(bounds)
	for i, det := range dets {
		c := ColorFor(boxes[i].ClassIndex)
		rect := image.Rect(det.BBox[0], det.BBox[1], det.BBox[2], det.BBox[3]).Intersect(canvas.Bounds())
		if rect.Empty() {
			continue
		}
		drawOutline(canvas, rect, lw, c)
		a.drawCaption(canvas, rect, fmt.Sprintf("%s %.2f", det.Label, det.Confidence), c)
	}
	return canvas
}

func drawOutline(dst *image.RGBA, r image.Rectangle, width int, c color.Color) {
	src := image.NewUniform(c)
	width = min(width, (r.Dx()+1)/2, (r.Dy()+1)/2)
	if width < 1 {
		width = 1
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// drawCaption places a filled label strip above the box, or inside its top
// edge when the box touches the top of the image.
func (a *Annotator) drawCaption(dst *image.RGBA, box image.Rectangle, text string, bg color.Color) {
	metrics := a.face.Metrics()
	ascent := metrics.Ascent.Ceil()
	textHeight := ascent + metrics.Descent.Ceil()
	textWidth := font.MeasureString(a.face, text).Ceil()

	stripHeight := textHeight + 2*a.padding
	stripWidth := textWidth + 2*a.padding

	top := box.Min.Y - stripHeight
	if top < 0 {
		top = box.Min.Y
	}
	strip := image.Rect(box.Min.X, top, box.Min.X+stripWidth, top+stripHeight).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(bg), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(a.textColor),
		Face: a.face,
		Dot:  fixed.P(box.Min.X+a.padding, top+a.padding+ascent),
	}
	drawer.DrawString(text)
}
