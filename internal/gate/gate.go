// Package gate holds the persistent trust indicator and the one-time
// friction gate shown before playback of untrustworthy content.
package gate

import (
	"c2pastreamd/internal/metrics"
	"c2pastreamd/internal/models"
)

// Interstitial copy.
const (
	Message     = "The information in this video's Content Credentials is no longer trustworthy and the video's history cannot be confirmed."
	ActionLabel = "Watch Anyway"
)

// Host is the media element the gate controls.
type Host interface {
	Play()
	Pause()
}

// State is a read-only view of the gate and indicator.
type State struct {
	Indicator       models.Status `json:"indicator"`
	Compromised     bool          `json:"compromised"`
	Blocking        bool          `json:"blocking"`
	Message         string        `json:"message,omitempty"`
	Action          string        `json:"action,omitempty"`
	PlaybackStarted bool          `json:"playbackStarted"`
}

// Gate tracks the indicator and decides whether the first play is blocked.
type Gate struct {
	host Host

	indicator   models.Status
	compromised bool

	signal    models.Status
	hasSignal bool
	blocking  bool
	started   bool
}

// New creates a Gate driving host.
func New(host Host) *Gate {
	return &Gate{host: host}
}

// Observe records the aggregate status of an accepted tick. The first
// definite status seen before playback starts becomes the gate's signal.
func (g *Gate) Observe(status models.Status) {
	g.indicator = status
	if !g.started && !g.hasSignal && status.Known() {
		g.signal = status
		g.hasSignal = true
	}
}

// SetCompromised sets the compromised flag of the indicator.
func (g *Gate) SetCompromised(v bool) { g.compromised = v }

// OnPlay handles the host's play transition. current is consulted when no
// signal has been observed yet. It reports whether playback was blocked.
func (g *Gate) OnPlay(current func() models.Status) bool {
	if g.started {
		return false
	}
	if g.blocking {
		g.host.Pause()
		return true
	}

	signal := g.signal
	if !g.hasSignal && current != nil {
		signal = current()
	}
	if signal != models.StatusFailed {
		g.started = true
		return false
	}

	g.host.Pause()
	g.blocking = true
	metrics.IncFrictionGate("shown")
	return true
}

// Acknowledge is the viewer's "watch anyway". It hides the interstitial,
// marks playback as started for good and resumes the host.
func (g *Gate) Acknowledge() bool {
	if !g.blocking {
		return false
	}
	g.blocking = false
	g.started = true
	metrics.IncFrictionGate("acknowledged")
	g.host.Play()
	return true
}

// PlaybackStarted reports whether playback has been allowed to start.
func (g *Gate) PlaybackStarted() bool { return g.started }

// Blocking reports whether the interstitial is shown.
func (g *Gate) Blocking() bool { return g.blocking }

// Reset returns the gate to its initial state.
func (g *Gate) Reset() {
	*g = Gate{host: g.host}
}

// State returns a snapshot.
func (g *Gate) State() State {
	st := State{
		Indicator:       g.indicator,
		Compromised:     g.compromised,
		Blocking:        g.blocking,
		PlaybackStarted: g.started,
	}
	if g.blocking {
		st.Message = Message
		st.Action = ActionLabel
	}
	return st
}
