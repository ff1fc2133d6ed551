package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"video-compare/internal/logging"
	"video-compare/internal/memory"
	"video-compare/internal/metrics"
	"video-compare/internal/playback"
	"video-compare/internal/workers"
)

// Manager owns the open sessions of the process.
type Manager struct {
	cfg         Config
	maxSessions int
	monitor     *memory.Monitor

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager allowing at most maxSessions open sessions
// (0 means no limit). monitor may be nil; otherwise it throttles decode-ahead
// and its pressure callbacks shrink every session's caches.
func NewManager(cfg Config, maxSessions int, monitor *memory.Monitor) *Manager {
	m := &Manager{
		cfg:         cfg,
		maxSessions: maxSessions,
		monitor:     monitor,
		sessions:    make(map[string]*Session),
	}
	if monitor != nil {
		monitor.OnPressure(m.relieve)
	}
	return m
}

// sessionConfig fills in the per-session parts of the template config.
func (m *Manager) sessionConfig(open int) Config {
	cfg := m.cfg
	if cfg.Decoder.Threads <= 0 {
		cfg.Decoder.Threads = workers.DecoderThreads(open + 1)
	}
	if m.monitor != nil && cfg.Decoder.Throttle == nil {
		cfg.Decoder.Throttle = m.monitor
	}
	return cfg
}

func (m *Manager) reserve() (Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Config{}, ErrClosed
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return Config{}, fmt.Errorf("%w (limit %d)", ErrTooManySessions, m.maxSessions)
	}
	return m.sessionConfig(len(m.sessions)), nil
}

// Open opens a comparison of refA and refB.
func (m *Manager) Open(ctx context.Context, refA, refB string) (*Session, error) {
	cfg, err := m.reserve()
	if err != nil {
		return nil, err
	}
	s, err := OpenSources(ctx, refA, refB, cfg)
	if err != nil {
		return nil, err
	}
	return m.add(s)
}

// OpenSplit opens a comparison of the two halves of ref.
func (m *Manager) OpenSplit(ctx context.Context, ref string) (*Session, error) {
	cfg, err := m.reserve()
	if err != nil {
		return nil, err
	}
	s, err := OpenSplit(ctx, ref, cfg)
	if err != nil {
		return nil, err
	}
	return m.add(s)
}

// add registers s, closing it if the limit was reached meanwhile.
func (m *Manager) add(s *Session) (*Session, error) {
	m.mu.Lock()
	if m.closed || (m.maxSessions > 0 && len(m.sessions) >= m.maxSessions) {
		closed := m.closed
		m.mu.Unlock()
		s.Close()
		if closed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, m.maxSessions)
	}
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Created().Before(list[j].Created())
	})
	return list
}

// Close closes and forgets the session with the given id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	metrics.SessionsActive.Set(float64(n))
	return s.Close()
}

// CloseAll closes every session and refuses new ones.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	metrics.SessionsActive.Set(0)
	if len(sessions) > 0 {
		logging.Info("Closed %d sessions", len(sessions))
	}
}

// GetStats implements metrics.StatsProvider.
func (m *Manager) GetStats() metrics.Stats {
	var st metrics.Stats
	for _, s := range m.List() {
		st.ActiveSessions++
		if s.State().State == playback.Playing {
			st.PlayingSessions++
		}
		frames, bytes := s.CacheStats()
		st.CachedFrames += frames
		st.CachedBytes += bytes
	}
	return st
}

func (m *Manager) relieve(usage float64) {
	for _, s := range m.List() {
		s.relieve(usage)
	}
}
