package decoder

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"video-compare/internal/media"
)

// SyntheticScheme prefixes refs served by the Synthetic backend.
const SyntheticScheme = "synthetic:"

// Synthetic generates deterministic test-pattern video. A ref looks like
//
//	synthetic:?w=64&h=36&fps=30&dur=10s&seed=1
//
// Parameters:
//
//	w, h     frame size (default 64x36)
//	fps      frame rate (default 30)
//	dur      duration (default 10s)
//	seed     pattern seed; equal seeds give equal content (default 1)
//	shift    content offset: frame at t shows the pattern of t+shift
//	scene    how long one pattern stays on screen (default 200ms)
//	delay    time each frame takes to decode
//	corrupt  comma-separated frame indices that fail to decode
//	fail     "probe" or "open" to make that step fail
//
// The pattern is a grid of 8x8 blocks whose brightness depends on the seed
// and the scene index, drawn over a band of colour bars that encode the
// frame index so every frame is distinguishable.
type Synthetic struct{}

// IsSynthetic reports whether ref addresses the Synthetic backend.
func IsSynthetic(ref string) bool {
	return strings.HasPrefix(ref, SyntheticScheme)
}

// SyntheticRef builds a ref from parameters.
func SyntheticRef(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return SyntheticScheme + "?" + v.Encode()
}

type syntheticParams struct {
	width, height int
	fps           float64
	duration      time.Duration
	seed          uint64
	shift         time.Duration
	scene         time.Duration
	delay         time.Duration
	corrupt       map[int64]bool
	fail          string
}

func parseSynthetic(ref string) (syntheticParams, error) {
	p := syntheticParams{
		width:    64,
		height:   36,
		fps:      30,
		duration: 10 * time.Second,
		seed:     1,
		scene:    200 * time.Millisecond,
		corrupt:  map[int64]bool{},
	}

	q := strings.TrimPrefix(ref, SyntheticScheme)
	q = strings.TrimPrefix(q, "?")
	values, err := url.ParseQuery(q)
	if err != nil {
		return p, err
	}

	intParam := func(key string, dst *int) error {
		if s := values.Get(key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	durParam := func(key string, dst *time.Duration) error {
		if s := values.Get(key); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}

	if err := intParam("w", &p.width); err != nil {
		return p, err
	}
	if err := intParam("h", &p.height); err != nil {
		return p, err
	}
	durations := map[string]*time.Duration{"dur": &p.duration, "shift": &p.shift, "scene": &p.scene, "delay": &p.delay}
	for key, dst := range durations {
		if err := durParam(key, dst); err != nil {
			return p, err
		}
	}
	if s := values.Get("fps"); s != "" {
		if p.fps, err = strconv.ParseFloat(s, 64); err != nil {
			return p, fmt.Errorf("invalid fps: %w", err)
		}
	}
	if s := values.Get("seed"); s != "" {
		if p.seed, err = strconv.ParseUint(s, 10, 64); err != nil {
			return p, fmt.Errorf("invalid seed: %w", err)
		}
	}
	if s := values.Get("corrupt"); s != "" {
		for _, part := range strings.Split(s, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return p, fmt.Errorf("invalid corrupt index: %w", err)
			}
			p.corrupt[n] = true
		}
	}
	if p.scene <= 0 {
		p.scene = 200 * time.Millisecond
	}
	p.fail = values.Get("fail")
	return p, nil
}

// Probe parses the ref and returns the described metadata.
func (Synthetic) Probe(_ context.Context, ref string) (media.Info, error) {
	if !IsSynthetic(ref) {
		return media.Info{}, &SourceError{Ref: ref, Reason: "not a synthetic ref"}
	}
	p, err := parseSynthetic(ref)
	if err != nil {
		return media.Info{}, &SourceError{Ref: ref, Reason: "bad parameters", Err: err}
	}
	if p.fail == "probe" {
		return media.Info{}, &SourceError{Ref: ref, Reason: "probe failure requested"}
	}

	info := media.Info{
		ID:        fmt.Sprintf("synthetic-%d", p.seed),
		Ref:       ref,
		Duration:  p.duration,
		FrameRate: p.fps,
		Width:     p.width,
		Height:    p.height,
		Codec:     "testsrc",
	}
	if err := validate(&info); err != nil {
		return media.Info{}, &SourceError{Ref: ref, Reason: err.Error()}
	}
	return info, nil
}

// OpenStream starts generating frames at start.
func (Synthetic) OpenStream(info media.Info, start time.Duration, _ StreamOptions) (Stream, error) {
	p, err := parseSynthetic(info.Ref)
	if err != nil {
		return nil, err
	}
	if p.fail == "open" {
		return nil, fmt.Errorf("open failure requested for %s", info.Ref)
	}
	return &syntheticStream{
		params: p,
		info:   info,
		next:   info.FrameIndex(start),
		closed: make(chan struct{}),
	}, nil
}

type syntheticStream struct {
	params    syntheticParams
	info      media.Info
	next      int64
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *syntheticStream) ReadFrame() (*image.RGBA, error) {
	if s.params.delay > 0 {
		select {
		case <-time.After(s.params.delay):
		case <-s.closed:
			return nil, ErrEndOfStream
		}
	}

	select {
	case <-s.closed:
		return nil, ErrEndOfStream
	default:
	}

	if s.next >= s.info.Frames {
		return nil, ErrEndOfStream
	}

	seq := s.next
	s.next++
	if s.params.corrupt[seq] {
		return nil, &DecodeError{Seq: seq, PTS: s.info.FramePTS(seq), Err: fmt.Errorf("corrupt frame %d", seq)}
	}
	return RenderPattern(s.params.width, s.params.height, s.params.seed,
		s.info.FramePTS(seq)+s.params.shift, s.params.scene, seq), nil
}

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// barColors are the SMPTE bar colours used for the frame index band.
var barColors = [7][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

// RenderPattern draws the synthetic frame for content time t. The top 7/8
// is an 8x8 block grid that depends only on (seed, t/scene); the bottom band
// is colour bars rotated by frame index.
func RenderPattern(w, h int, seed uint64, t, scene time.Duration, seq int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	sceneIdx := int64(t / scene)
	band := h - h/8

	for by := 0; by < 8; by++ {
		for bx := 0; bx < 8; bx++ {
			v := blockValue(seed, sceneIdx, bx+by*8)
			y0, y1 := by*band/8, (by+1)*band/8
			x0, x1 := bx*w/8, (bx+1)*w/8
			for y := y0; y < y1; y++ {
				row := img.Pix[y*img.Stride:]
				for x := x0; x < x1; x++ {
					i := x * 4
					row[i], row[i+1], row[i+2], row[i+3] = v, v, v, 255
				}
			}
		}
	}

	barWidth := w / 7
	if barWidth < 1 {
		barWidth = 1
	}
	for y := band; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			idx := (x/barWidth + int(seq%7)) % 7
			c := barColors[idx]
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c[0], c[1], c[2], 255
		}
	}
	return img
}

func blockValue(seed uint64, scene int64, block int) uint8 {
	h := fnv.New64a()
	var buf [24]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
		buf[8+i] = byte(uint64(scene) >> (8 * i))
		buf[16+i] = byte(uint64(block) >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return uint8(h.Sum64() >> 56)
}
