// Package procguard owns a child process (WebDriver server, bundled
// browser) and guarantees it is killed and waited on every exit path,
// including panic unwind, per spec §5/§9 "Child-process ownership".
package procguard

import (
	"os/exec"
	"sync"
)

// Guard wraps an *exec.Cmd whose Process has already been started. The
// first Release kills and waits on the process; subsequent calls are
// no-ops, matching the Rust scoped-guard's Drop semantics.
type Guard struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	release bool
}

// New transfers ownership of a started command to the guard. The caller
// MUST defer guard.Release() immediately after the command is spawned, per
// spec §9's "controller transfers ownership to the guard as soon as the
// child is spawned."
func New(cmd *exec.Cmd) *Guard {
	return &Guard{cmd: cmd}
}

// Release kills the process and waits on it, discarding the wait error
// (the process was killed deliberately). No-op if already released or if
// there is no process (e.g. the guard wraps a remote, non-local WebDriver
// endpoint).
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.release || g.cmd == nil || g.cmd.Process == nil {
		return
	}
	g.release = true
	_ = g.cmd.Process.Kill()
	_ = g.cmd.Wait()
}
