package player

import "sync"

// Host commands recorded by CommandQueue.
const (
	CommandPlay  = "play"
	CommandPause = "pause"
)

// CommandQueue is a gate host for a remote media element. It records the
// play and pause commands the gate issues until the client drains them.
type CommandQueue struct {
	mu   sync.Mutex
	cmds []string
}

// Play records a play command.
func (q *CommandQueue) Play() { q.add(CommandPlay) }

// Pause records a pause command.
func (q *CommandQueue) Pause() { q.add(CommandPause) }

func (q *CommandQueue) add(cmd string) {
	q.mu.Lock()
	q.cmds = append(q.cmds, cmd)
	q.mu.Unlock()
}

// Drain returns and clears the pending commands.
func (q *CommandQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.cmds
	q.cmds = nil
	return out
}
