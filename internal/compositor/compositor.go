package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"video-compare/internal/media"
	"video-compare/internal/metrics"
	"video-compare/internal/timeline"
)

// DiffStats summarises an overlay difference image.
type DiffStats struct {
	Mean           float64 `json:"mean"`
	Max            uint8   `json:"max"`
	AboveThreshold float64 `json:"aboveThreshold"`
}

// Result is one composed output.
type Result struct {
	Image *image.RGBA
	// Diff is set in overlay mode when both frames were present.
	Diff *DiffStats
}

// Compositor composes frames of two sources with fixed declared sizes.
type Compositor struct {
	sizes [2]image.Point
}

// New creates a compositor for sources of frame size a and b.
func New(a, b image.Point) *Compositor {
	return &Compositor{sizes: [2]image.Point{a, b}}
}

// Sizes returns the declared source sizes.
func (c *Compositor) Sizes() [2]image.Point { return c.sizes }

// CommonHeight is the side-by-side output height: the taller source.
func (c *Compositor) CommonHeight() int {
	return max(c.sizes[0].Y, c.sizes[1].Y)
}

// Reference returns the index of the source whose size is used for overlay
// and wipe output: the larger by area, A on a tie.
func (c *Compositor) Reference() int {
	a, b := c.sizes[0], c.sizes[1]
	if b.X*b.Y > a.X*a.Y {
		return 1
	}
	return 0
}

// sideWidths are the side-by-side widths of A and B at the common height.
func (c *Compositor) sideWidths() [2]int {
	h := c.CommonHeight()
	return [2]int{
		media.ScaledWidth(c.sizes[0].X, c.sizes[0].Y, h),
		media.ScaledWidth(c.sizes[1].X, c.sizes[1].Y, h),
	}
}

// OutputSize returns the size of images composed in mode m.
func (c *Compositor) OutputSize(m Mode, p Params) image.Point {
	if m == SideBySide {
		w := c.sideWidths()
		return image.Pt(w[0]+max(p.Gap, 0)+w[1], c.CommonHeight())
	}
	return c.sizes[c.Reference()]
}

// Compose renders pair in mode m.
func (c *Compositor) Compose(pair timeline.FramePair, m Mode, p Params) Result {
	start := time.Now()
	defer func() {
		metrics.ComposeDuration.WithLabelValues(m.String()).Observe(time.Since(start).Seconds())
	}()

	switch m {
	case Overlay:
		return c.overlay(pair, p)
	case Wipe:
		return Result{Image: c.wipe(pair, p)}
	default:
		return Result{Image: c.sideBySide(pair, p)}
	}
}

func (c *Compositor) sideBySide(pair timeline.FramePair, p Params) *image.RGBA {
	size := c.OutputSize(SideBySide, p)
	if !pair.A().HasFrame() && !pair.B().HasFrame() {
		return emptyPanel(pair, size, p)
	}
	out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))

	w := c.sideWidths()
	gap := max(p.Gap, 0)
	h := size.Y
	regions := [2]image.Rectangle{
		image.Rect(0, 0, w[0], h),
		image.Rect(w[0]+gap, 0, w[0]+gap+w[1], h),
	}
	if gap > 0 {
		fillRect(out, image.Rect(w[0], 0, w[0]+gap, h), p.Background)
	}

	for i, slot := range pair.Slots {
		r := regions[i]
		if !slot.HasFrame() {
			fillRect(out, r, p.Background)
			if p.Badges {
				centerLabel(out, r, noFrameLabel(slot))
			}
			continue
		}
		img := media.Resize(slot.Frame.Image, r.Dx(), r.Dy())
		draw.Draw(out, r, img, img.Rect.Min, draw.Src)
		if p.Badges {
			slotBadge(out, r, slot)
		}
	}
	return out
}

// refImages scales both available frames to the reference size.
func (c *Compositor) refImages(pair timeline.FramePair) (image.Point, [2]*image.RGBA) {
	size := c.sizes[c.Reference()]
	var imgs [2]*image.RGBA
	for i, slot := range pair.Slots {
		if slot.HasFrame() {
			imgs[i] = media.Resize(slot.Frame.Image, size.X, size.Y)
		}
	}
	return size, imgs
}

// single renders the one available frame (or a panel) for overlay and wipe
// when a side is missing.
func (c *Compositor) single(pair timeline.FramePair, size image.Point, imgs [2]*image.RGBA, p Params) *image.RGBA {
	for i, img := range imgs {
		if img == nil {
			continue
		}
		out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
		draw.Draw(out, out.Rect, img, img.Rect.Min, draw.Src)
		if p.Badges {
			slotBadge(out, out.Rect, pair.Slots[i])
			cornerLabel(out, out.Rect, labelFor(1-i, noFrameLabel(pair.Slots[1-i])), missingFG, i == 0)
		}
		return out
	}

	return emptyPanel(pair, size, p)
}

// emptyPanel is the neutral panel shown when neither source has a frame.
func emptyPanel(pair timeline.FramePair, size image.Point, p Params) *image.RGBA {
	out := media.Fill(size.X, size.Y, p.Background)
	if p.Badges {
		centerLabel(out, out.Rect, noFrameLabel(pair.A()))
	}
	return out
}

func (c *Compositor) overlay(pair timeline.FramePair, p Params) Result {
	size, imgs := c.refImages(pair)
	if imgs[0] == nil || imgs[1] == nil {
		return Result{Image: c.single(pair, size, imgs, p)}
	}

	out, stats := Difference(imgs[0], imgs[1], p.Threshold, p.ColorMap)
	if p.Badges {
		for i, slot := range pair.Slots {
			if slot.Degraded() {
				cornerLabel(out, out.Rect, labelFor(i, "STALE"), staleFG, i == 1)
			}
		}
	}
	return Result{Image: out, Diff: &stats}
}

func (c *Compositor) wipe(pair timeline.FramePair, p Params) *image.RGBA {
	size, imgs := c.refImages(pair)
	if imgs[0] == nil || imgs[1] == nil {
		return c.single(pair, size, imgs, p)
	}

	out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	split := int(ClampDivision(p.Division) * float64(size.X))
	left := image.Rect(0, 0, split, size.Y)
	right := image.Rect(split, 0, size.X, size.Y)

	draw.Draw(out, left, imgs[0], image.Point{}, draw.Src)
	draw.Draw(out, right, imgs[1], image.Pt(split, 0), draw.Src)
	fillRect(out, image.Rect(split-1, 0, split+1, size.Y), color.RGBA{R: 255, G: 255, B: 255, A: 255})

	if p.Badges {
		slotBadge(out, left, pair.A())
		slotBadge(out, right, pair.B())
	}
	return out
}

// Difference computes the per-pixel absolute difference of a and b, taking
// the largest channel difference, and renders it with colour map cm. b is
// resized to a's size first if they differ.
func Difference(a, b *image.RGBA, threshold uint8, cm ColorMap) (*image.RGBA, DiffStats) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if b.Rect.Size() != a.Rect.Size() {
		b = media.Resize(b, w, h)
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))

	var stats DiffStats
	var sum, above int64
	for y := 0; y < h; y++ {
		ra := a.Pix[a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y):]
		rb := b.Pix[b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y):]
		ro := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			d := absDiff(ra[i], rb[i])
			d = max(d, absDiff(ra[i+1], rb[i+1]))
			d = max(d, absDiff(ra[i+2], rb[i+2]))

			sum += int64(d)
			stats.Max = max(stats.Max, d)

			c := color.RGBA{R: d, G: d, B: d, A: 255}
			if d > threshold {
				above++
				if cm == ColorMapHeat {
					c = heat(d, threshold)
				}
			}
			ro[i], ro[i+1], ro[i+2], ro[i+3] = c.R, c.G, c.B, c.A
		}
	}

	if n := int64(w * h); n > 0 {
		stats.Mean = float64(sum) / float64(n)
		stats.AboveThreshold = float64(above) / float64(n)
	}
	return out, stats
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// heat maps a difference above threshold from yellow (just above) to red
// (maximal).
func heat(d, threshold uint8) color.RGBA {
	span := 255 - int(threshold)
	if span <= 0 {
		return color.RGBA{R: 255, A: 255}
	}
	t := float64(int(d)-int(threshold)) / float64(span)
	return color.RGBA{R: 255, G: uint8(255 * (1 - t)), A: 255}
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Rect), &image.Uniform{C: c}, image.Point{}, draw.Src)
}
