package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"c2pastreamd/internal/c2pa"
	"c2pastreamd/internal/cache"
	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/metrics"
	"c2pastreamd/internal/player"
	"c2pastreamd/internal/store"
	"c2pastreamd/internal/timeline"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

const defaultIdleCheck = 30 * time.Second

// Options configures the players created by a SessionManager.
type Options struct {
	Reader  c2pa.Reader
	Results *store.ResultStore
	Probe   bool

	Epsilon       float64
	FrameInterval float64
	SeekThreshold float64

	// IdleTimeout disposes sessions that saw no request for this long.
	// Zero disables expiry.
	IdleTimeout      time.Duration
	EvictionInterval time.Duration
}

// Session is one remote player: a verification context fed through its
// event bus, plus the commands its gate issued to the remote media element.
type Session struct {
	ID       string
	Created  time.Time
	Player   *player.Player
	Events   *player.Bus
	Commands *player.CommandQueue
	Logger   logger.Logger

	mutex    sync.Mutex
	lastSeen time.Time
}

// Touch marks the session as used at t.
func (s *Session) Touch(t time.Time) {
	s.mutex.Lock()
	s.lastSeen = t
	s.mutex.Unlock()
}

// LastSeen returns the time of the last request.
func (s *Session) LastSeen() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastSeen
}

// SessionManager manages all live player sessions.
type SessionManager struct {
	mutex    sync.RWMutex
	sessions map[string]*Session
	logger   logger.Logger
	opts     Options
	inits    *cache.InitCache
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new session manager. Init segments of all sessions
// share one cache, scoped by session ID.
func NewManager(log logger.Logger, opts Options) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		logger:   log,
		opts:     opts,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	sm.inits = cache.New(log, sm.ActiveScopes)
	sm.inits.SetEvictionInterval(opts.EvictionInterval)
	return sm
}

// Start begins the background workers for the manager's components.
func (sm *SessionManager) Start() {
	sm.inits.Start()
	go sm.idleLoop()
}

// Stop disposes all sessions and stops the background workers. It must
// only be called after Start.
func (sm *SessionManager) Stop() {
	sm.logger.Infof("Stopping session manager and all active sessions...")
	sm.cancel()
	<-sm.done

	sm.mutex.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*Session)
	sm.mutex.Unlock()

	for _, s := range sessions {
		s.Player.Close()
	}
	metrics.ActiveSessions.Set(0)
	sm.inits.Stop()
	sm.logger.Infof("Session manager stopped.")
}

// Create starts a new session with a fresh player.
func (sm *SessionManager) Create() *Session {
	id := uuid.NewString()
	log := sessionLogger(sm.logger, id)
	now := sm.now()

	bus := player.NewBus()
	commands := &player.CommandQueue{}
	p := player.New(bus, player.Options{
		ID:            id,
		Reader:        sm.opts.Reader,
		Inits:         sm.inits,
		Results:       sm.opts.Results,
		Probe:         sm.opts.Probe,
		Epsilon:       sm.opts.Epsilon,
		FrameInterval: sm.opts.FrameInterval,
		SeekThreshold: sm.opts.SeekThreshold,
		Host:          commands,
		Logger:        log,
	})
	p.Notifications().On(player.EventStatusChanged, func(payload any) {
		if eval, ok := payload.(timeline.Evaluation); ok {
			log.Infof("Verification status changed to %s at %.3fs", eval.Status, eval.Time)
		}
	})

	s := &Session{
		ID:       id,
		Created:  now,
		Player:   p,
		Events:   bus,
		Commands: commands,
		Logger:   log,
		lastSeen: now,
	}

	sm.mutex.Lock()
	sm.sessions[id] = s
	n := len(sm.sessions)
	sm.mutex.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	sm.logger.Infof("Created session %s", id)
	return s
}

// Get returns a live session and marks it as used.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mutex.RLock()
	s, found := sm.sessions[id]
	sm.mutex.RUnlock()
	if !found {
		return nil, ErrSessionNotFound
	}
	s.Touch(sm.now())
	return s, nil
}

// Delete disposes a session.
func (sm *SessionManager) Delete(id string) error {
	sm.mutex.Lock()
	s, found := sm.sessions[id]
	delete(sm.sessions, id)
	n := len(sm.sessions)
	sm.mutex.Unlock()
	if !found {
		return ErrSessionNotFound
	}

	s.Player.Close()
	metrics.ActiveSessions.Set(float64(n))
	sm.logger.Infof("Deleted session %s", id)
	return nil
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.sessions)
}

// ActiveScopes returns the IDs of all live sessions. The init segment cache
// keeps only entries of these scopes.
func (sm *SessionManager) ActiveScopes() map[string]struct{} {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	scopes := make(map[string]struct{}, len(sm.sessions))
	for id := range sm.sessions {
		scopes[id] = struct{}{}
	}
	return scopes
}

func (sm *SessionManager) idleLoop() {
	defer close(sm.done)
	if sm.opts.IdleTimeout <= 0 {
		<-sm.ctx.Done()
		return
	}

	interval := defaultIdleCheck
	if sm.opts.IdleTimeout < interval {
		interval = sm.opts.IdleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
			if n := sm.ExpireIdle(); n > 0 {
				sm.logger.Infof("Expired %d idle sessions", n)
			}
		}
	}
}

// ExpireIdle disposes every session idle for longer than the idle timeout
// and returns how many were removed.
func (sm *SessionManager) ExpireIdle() int {
	if sm.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := sm.now().Add(-sm.opts.IdleTimeout)

	var expired []string
	sm.mutex.RLock()
	for id, s := range sm.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	sm.mutex.RUnlock()

	removed := 0
	for _, id := range expired {
		if sm.Delete(id) == nil {
			removed++
		}
	}
	return removed
}

func sessionLogger(log logger.Logger, id string) logger.Logger {
	if zl, ok := log.(*logger.ZeroLogger); ok {
		return zl.With("session", id)
	}
	return log
}
