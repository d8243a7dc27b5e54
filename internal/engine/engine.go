// Package engine manages one forwarding-engine subprocess per verification
// chunk: spawn, feed the config document over stdin, observe early exits, and
// kill unconditionally when the chunk is done.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/apex/log"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

type StartError struct {
	AppError model.AppError
	Cause    error
}

func (e *StartError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *StartError) Unwrap() error { return e.Cause }

// Process is a running engine instance. Kill is safe on every exit path and
// may be called more than once.
type Process struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	output bytes.Buffer

	done     chan struct{}
	waitErr  error
	killOnce sync.Once
}

// Start spawns `bin run -config stdin:`, writes the whole config document to
// the child's stdin and closes it. A spawn failure is run-fatal for the
// caller. When dumpFile is non-empty the document is also written there for
// debugging.
func Start(ctx context.Context, bin string, config []byte, dumpFile string) (*Process, error) {
	if dumpFile != "" {
		if err := os.WriteFile(dumpFile, config, 0o644); err != nil {
			log.WithError(err).Warnf("failed to dump engine config to %s", dumpFile)
		}
	}

	p := &Process{done: make(chan struct{})}
	p.cmd = exec.CommandContext(ctx, bin, "run", "-config", "stdin:")
	p.cmd.Stdout = &lockedWriter{p: p}
	p.cmd.Stderr = &lockedWriter{p: p}

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, startError(bin, err)
	}
	if err := p.cmd.Start(); err != nil {
		return nil, startError(bin, err)
	}

	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()

	if _, err := stdin.Write(config); err != nil {
		p.Kill()
		return nil, &StartError{
			AppError: model.AppError{
				Code:    "ENGINE_CONFIG_WRITE_ERROR",
				Message: "failed to write config to engine stdin",
				Stage:   "verify",
			},
			Cause: err,
		}
	}
	_ = stdin.Close()

	return p, nil
}

func startError(bin string, err error) *StartError {
	return &StartError{
		AppError: model.AppError{
			Code:    "ENGINE_SPAWN_ERROR",
			Message: "failed to start forwarding engine",
			Stage:   "verify",
			Snippet: bin,
		},
		Cause: err,
	}
}

// Exited reports whether the process has already terminated, without blocking.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Output returns everything the process has written so far, for diagnostics
// when it exits unexpectedly.
func (p *Process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output.String()
}

// Kill force-terminates the process and reaps it. Killing an already-exited
// process is a no-op.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		if !p.Exited() {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	})
}

type lockedWriter struct {
	p *Process
}

func (w *lockedWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.p.output.Write(b)
}
