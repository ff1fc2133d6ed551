package compositor

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"video-compare/internal/timeline"
)

const badgePad = 3

var (
	badgeBG   = color.RGBA{A: 200}
	badgeFG   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	staleFG   = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	missingFG = color.RGBA{R: 255, G: 96, B: 96, A: 255}
)

var face = basicfont.Face7x13

func labelFor(i int, text string) string {
	if i == 0 {
		return "A " + text
	}
	return "B " + text
}

// noFrameLabel names why a slot has no picture.
func noFrameLabel(s timeline.Slot) string {
	switch s.Status {
	case timeline.BeforeStart:
		return "NOT STARTED"
	case timeline.Ended:
		return "ENDED"
	}
	return "NO FRAME"
}

// slotBadge marks a side showing a stale, substituted or held frame.
func slotBadge(img *image.RGBA, r image.Rectangle, s timeline.Slot) {
	switch {
	case s.Degraded():
		drawLabel(img, image.Pt(r.Min.X+badgePad, r.Min.Y+badgePad), "STALE", staleFG)
	case s.Status == timeline.Ended:
		drawLabel(img, image.Pt(r.Min.X+badgePad, r.Min.Y+badgePad), "ENDED", badgeFG)
	}
}

// cornerLabel draws text in the top-left or top-right corner of r.
func cornerLabel(img *image.RGBA, r image.Rectangle, text string, fg color.RGBA, right bool) {
	pt := image.Pt(r.Min.X+badgePad, r.Min.Y+badgePad)
	if right {
		pt.X = r.Max.X - badgePad - labelSize(text).X
	}
	drawLabel(img, pt, text, fg)
}

// centerLabel draws text centred in r.
func centerLabel(img *image.RGBA, r image.Rectangle, text string) {
	size := labelSize(text)
	pt := image.Pt(
		r.Min.X+(r.Dx()-size.X)/2,
		r.Min.Y+(r.Dy()-size.Y)/2,
	)
	drawLabel(img, pt, text, missingFG)
}

// labelSize is the size of a label box including padding.
func labelSize(text string) image.Point {
	w := font.MeasureString(face, text).Ceil()
	return image.Pt(w+2*badgePad, face.Metrics().Height.Ceil()+2*badgePad)
}

// drawLabel draws text on a dark box whose top-left corner is at pt. The
// box is clipped to the image.
func drawLabel(img *image.RGBA, pt image.Point, text string, fg color.RGBA) {
	size := labelSize(text)
	box := image.Rectangle{Min: pt, Max: pt.Add(size)}.Intersect(img.Rect)
	if box.Empty() {
		return
	}
	blend(img, box, badgeBG)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(pt.X+badgePad, pt.Y+badgePad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

// blend darkens r by drawing c over it with c's alpha.
func blend(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	a := uint32(c.A)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			for k := 0; k < 3; k++ {
				dst := uint32(img.Pix[i+k])
				src := uint32([3]uint8{c.R, c.G, c.B}[k])
				img.Pix[i+k] = uint8((src*a + dst*(255-a)) / 255)
			}
			i += 4
		}
	}
}
