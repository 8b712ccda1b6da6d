package detections

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// letterboxFill is the grey YOLO models are trained against for padding.
var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// letterbox fits a source image into the model input without distorting its
// aspect ratio. The scaled image is centred and the remainder padded.
type letterbox struct {
	scale         float32
	width, height int
	padX, padY    int
	srcWidth      int
	srcHeight     int
}

func newLetterbox(srcWidth, srcHeight, dstWidth, dstHeight int) letterbox {
	scale := min(float64(dstWidth)/float64(srcWidth), float64(dstHeight)/float64(srcHeight))
	width := min(max(1, int(math.Round(float64(srcWidth)*scale))), dstWidth)
	height := min(max(1, int(math.Round(float64(srcHeight)*scale))), dstHeight)

	return letterbox{
		scale:     float32(scale),
		width:     width,
		height:    height,
		padX:      (dstWidth - width) / 2,
		padY:      (dstHeight - height) / 2,
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
	}
}

// apply returns the padded dstWidth x dstHeight model input for img.
func (lb letterbox) apply(img image.Image, dstWidth, dstHeight int) *image.NRGBA {
	resized := imaging.Resize(img, lb.width, lb.height, imaging.Linear)
	canvas := imaging.New(dstWidth, dstHeight, letterboxFill)
	return imaging.Paste(canvas, resized, image.Pt(lb.padX, lb.padY))
}
