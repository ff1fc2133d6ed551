package decoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"video-compare/internal/filesystem"
	"video-compare/internal/logging"
	"video-compare/internal/media"
	"video-compare/internal/metrics"
)

// FFmpeg decodes local files with ffprobe and ffmpeg subprocesses.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Retry       filesystem.RetryConfig

	processMu sync.Mutex
	processes map[*exec.Cmd]string
}

// NewFFmpeg creates an FFmpeg backend. Empty paths default to the binaries
// on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Retry:       filesystem.DefaultRetryConfig(),
		processes:   make(map[*exec.Cmd]string),
	}
}

type probeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe checks that ref is a readable file and reads its first video stream.
func (b *FFmpeg) Probe(ctx context.Context, ref string) (media.Info, error) {
	if err := filesystem.CheckReadable(ref, b.Retry); err != nil {
		return media.Info{}, &SourceError{Ref: ref, Reason: "cannot read file", Err: err}
	}

	cmd := exec.CommandContext(ctx, b.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-print_format", "json",
		ref,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return media.Info{}, &SourceError{
			Ref:    ref,
			Reason: "ffprobe failed: " + strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	info, err := parseProbe(stdout.Bytes())
	if err != nil {
		return media.Info{}, &SourceError{Ref: ref, Reason: err.Error()}
	}
	info.Ref = ref
	info.ID = filepath.Base(ref)
	return info, nil
}

func parseProbe(data []byte) (media.Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return media.Info{}, fmt.Errorf("invalid ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return media.Info{}, errors.New("no video stream")
	}

	s := out.Streams[0]
	info := media.Info{
		Codec:  s.CodecName,
		Width:  s.Width,
		Height: s.Height,
	}

	info.FrameRate = parseRational(s.AvgFrameRate)
	if info.FrameRate <= 0 {
		info.FrameRate = parseRational(s.RFrameRate)
	}

	dur := s.Duration
	if dur == "" || dur == "N/A" {
		dur = out.Format.Duration
	}
	if secs, err := strconv.ParseFloat(dur, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}

	if n, err := strconv.ParseInt(s.NbFrames, 10, 64); err == nil {
		info.Frames = n
	}

	if err := validate(&info); err != nil {
		return media.Info{}, err
	}
	return info, nil
}

// parseRational parses ffprobe rates such as "30000/1001" or "25".
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// validate rejects metadata the engine cannot decode and fills derived fields.
func validate(info *media.Info) error {
	switch {
	case info.Width <= 0 || info.Height <= 0:
		return fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	case info.Width > media.MaxFrameDimension || info.Height > media.MaxFrameDimension ||
		info.Width*info.Height > media.MaxFramePixels:
		return fmt.Errorf("unsupported frame size %dx%d", info.Width, info.Height)
	case info.FrameRate <= 0 || info.FrameRate > 1000:
		return fmt.Errorf("unsupported frame rate %v", info.FrameRate)
	case info.Duration <= 0:
		return errors.New("unknown duration")
	}
	info.Normalize()
	return nil
}

// OpenStream starts ffmpeg decoding info.Ref from start as constant-rate raw
// RGBA. -ss before -i seeks the input to the keyframe before start and
// decodes forward, dropping frames before start.
func (b *FFmpeg) OpenStream(info media.Info, start time.Duration, opts StreamOptions) (Stream, error) {
	args := []string{
		"-nostdin",
		"-v", "error",
		"-ss", strconv.FormatFloat(start.Seconds(), 'f', 6, 64),
		"-i", info.Ref,
		"-an", "-sn", "-dn",
		"-r", strconv.FormatFloat(info.FrameRate, 'f', -1, 64),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
	}
	if opts.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(opts.Threads))
	}
	args = append(args, "-")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, b.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	b.processMu.Lock()
	b.processes[cmd] = info.Ref
	b.processMu.Unlock()
	metrics.DecoderProcesses.Inc()

	logging.Debug("Started ffmpeg for %s at %v (pid %d)", info.Ref, start, cmd.Process.Pid)

	return &ffmpegStream{
		backend: b,
		cmd:     cmd,
		cancel:  cancel,
		stdout:  stdout,
		stderr:  stderr,
		width:   info.Width,
		height:  info.Height,
	}, nil
}

// Cleanup kills every ffmpeg process still running.
func (b *FFmpeg) Cleanup() {
	b.processMu.Lock()
	defer b.processMu.Unlock()

	for cmd, ref := range b.processes {
		if cmd.Process != nil {
			logging.Info("Killing decoder process for: %s", ref)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill decoder process for %s: %v", ref, err)
			}
		}
	}
}

func (b *FFmpeg) release(cmd *exec.Cmd) {
	b.processMu.Lock()
	if _, ok := b.processes[cmd]; ok {
		delete(b.processes, cmd)
		metrics.DecoderProcesses.Dec()
	}
	b.processMu.Unlock()
}

type ffmpegStream struct {
	backend *FFmpeg
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdout  io.ReadCloser
	stderr  *tailBuffer
	width   int
	height  int

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) ReadFrame() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))

	_, err := io.ReadFull(s.stdout, img.Pix)
	switch {
	case err == nil:
		return img, nil
	case errors.Is(err, io.EOF):
		s.wait()
		return nil, ErrEndOfStream
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.wait()
		return nil, &DecodeError{Err: fmt.Errorf("truncated frame: %w; %s", ErrEndOfStream, s.stderr.String())}
	default:
		return nil, &DecodeError{Err: err}
	}
}

// wait reaps the process after its output ended.
func (s *ffmpegStream) wait() {
	s.closeOnce.Do(func() {
		s.closeErr = s.cmd.Wait()
		s.cancel()
		s.backend.release(s.cmd)
		if s.closeErr != nil {
			logging.Debug("ffmpeg exited: %v: %s", s.closeErr, s.stderr.String())
		}
	})
}

func (s *ffmpegStream) Close() error {
	s.cancel()
	s.wait()
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
