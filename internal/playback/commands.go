package playback

import (
	"fmt"
	"math"
	"time"

	"video-compare/internal/compositor"
)

// Play starts or resumes playback. Playing from the very end restarts from
// the beginning. Play while playing does nothing.
func (c *Controller) Play() error {
	return c.do(func() error {
		switch c.state.State {
		case Playing:
			return nil
		case Stopped, Paused:
		default:
			return fmt.Errorf("%w: play from %s", ErrInvalidTransition, c.state.State)
		}

		if c.state.Clock >= c.state.Duration {
			c.state.Clock = 0
		}
		c.setState(Playing)
		c.anchor()
		c.startTicking()
		c.publish()
		return nil
	})
}

// Pause freezes the clock. Pausing while paused does nothing.
func (c *Controller) Pause() error {
	return c.do(func() error {
		switch c.state.State {
		case Paused:
			return nil
		case Playing:
		default:
			return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.state.State)
		}

		c.state.Clock = c.position()
		c.setState(Paused)
		c.publish()
		c.dirty = true
		return nil
	})
}

// Stop halts playback and rewinds to zero.
func (c *Controller) Stop() error {
	return c.do(func() error {
		c.setState(Stopped)
		c.state.Clock = 0
		c.publish()
		c.dirty = true
		return nil
	})
}

// Seek moves the clock to ts, clamped to the timeline. The target pair is
// resolved before Seek returns; playback then resumes if it was playing,
// otherwise the controller is left Paused.
func (c *Controller) Seek(ts time.Duration) error {
	return c.do(func() error {
		origin := c.state.State
		ts = min(max(ts, 0), c.state.Duration)

		c.setState(Seeking)
		c.state.Clock = ts
		c.publish()
		c.render()

		if origin == Playing {
			c.setState(Playing)
			c.anchor()
			c.startTicking()
		} else {
			c.setState(Paused)
		}
		c.publish()
		return nil
	})
}

// Step moves n frames of source A forward (or back for negative n), landing
// exactly on A's frame grid. Only allowed while paused.
func (c *Controller) Step(n int) error {
	return c.do(func() error {
		if c.state.State != Paused {
			return fmt.Errorf("%w: step from %s", ErrInvalidTransition, c.state.State)
		}
		if n == 0 {
			return nil
		}

		info := c.syncer.Sources()[0].Info()
		offset := c.state.Offsets[0]
		idx := info.FrameIndex(c.state.Clock+offset) + int64(n)
		idx = min(max(idx, 0), info.Frames-1)

		c.state.Clock = max(info.FramePTS(idx)-offset, 0)
		c.publish()
		c.dirty = true
		return nil
	})
}

// SetMode changes the composition mode.
func (c *Controller) SetMode(m compositor.Mode) error {
	if m < compositor.SideBySide || m > compositor.Wipe {
		return fmt.Errorf("%w: mode %d", ErrInvalidArgument, int(m))
	}
	return c.update(func(s *SyncState) { s.Mode = m })
}

// SetOverlay changes the overlay difference threshold and colour map.
func (c *Controller) SetOverlay(threshold uint8, cm compositor.ColorMap) error {
	if cm != compositor.ColorMapGray && cm != compositor.ColorMapHeat {
		return fmt.Errorf("%w: color map %d", ErrInvalidArgument, int(cm))
	}
	return c.update(func(s *SyncState) {
		s.Threshold = threshold
		s.ColorMap = cm
	})
}

// SetDivision moves the wipe divider (fraction of the width).
func (c *Controller) SetDivision(d float64) error {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return fmt.Errorf("%w: division %v", ErrInvalidArgument, d)
	}
	return c.update(func(s *SyncState) { s.Division = compositor.ClampDivision(d) })
}

// SetOffset sets source B's offset relative to A: B shows its frame at
// clock + offset.
func (c *Controller) SetOffset(d time.Duration) error {
	return c.do(func() error {
		c.setOffsets([2]time.Duration{c.state.Offsets[0], d})
		return nil
	})
}

// SetOffsets sets both source offsets.
func (c *Controller) SetOffsets(offsets [2]time.Duration) error {
	return c.do(func() error {
		c.setOffsets(offsets)
		return nil
	})
}

func (c *Controller) setOffsets(offsets [2]time.Duration) {
	c.state.Offsets = offsets
	c.state.Duration = c.duration(offsets)
	c.publish()
	if c.state.State != Playing {
		c.dirty = true
	}
}

// SetSpeed changes the playback speed multiplier.
func (c *Controller) SetSpeed(speed float64) error {
	if math.IsNaN(speed) || speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: speed %v outside [%v, %v]", ErrInvalidArgument, speed, MinSpeed, MaxSpeed)
	}
	return c.do(func() error {
		if c.state.State == Playing {
			c.state.Clock = c.position()
			c.anchor()
			c.state.Rate = speed
		}
		c.state.Speed = speed
		c.publish()
		return nil
	})
}

// SetEndPolicy changes what happens when sources run out.
func (c *Controller) SetEndPolicy(p EndPolicy) error {
	if p != EndHoldLast && p != EndPauseAtShorter {
		return fmt.Errorf("%w: end policy %d", ErrInvalidArgument, int(p))
	}
	return c.update(func(s *SyncState) { s.EndPolicy = p })
}

// update applies a settings change and re-renders if the clock is not
// running.
func (c *Controller) update(fn func(*SyncState)) error {
	return c.do(func() error {
		fn(&c.state)
		c.publish()
		if c.state.State != Playing {
			c.dirty = true
		}
		return nil
	})
}
