package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/MrWong99/streamplay/pkg/playback"
)

// DefaultCommand plays a container read from standard input without opening
// a window and exits when the input is exhausted.
var DefaultCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"}

// waitDelay bounds how long a cancelled player may linger on its pipes.
const waitDelay = 2 * time.Second

var _ playback.Output = (*Output)(nil)

// OutputOption configures an [Output].
type OutputOption func(*Output)

// WithCommand sets the player command line. The media is written to its
// standard input.
func WithCommand(argv ...string) OutputOption {
	return func(o *Output) {
		if len(argv) > 0 {
			o.argv = append([]string(nil), argv...)
		}
	}
}

// WithStdout redirects the player's standard output.
func WithStdout(w io.Writer) OutputOption {
	return func(o *Output) {
		o.stdout = w
	}
}

// WithStderr redirects the player's standard error.
func WithStderr(w io.Writer) OutputOption {
	return func(o *Output) {
		o.stderr = w
	}
}

// Output is a persistent playback sink. Every [Output.Play] starts the
// player command fed with the bound media; ended fires when the command
// exits cleanly after consuming it.
type Output struct {
	host   *Host
	log    *slog.Logger
	argv   []string
	stdout io.Writer
	stderr io.Writer

	mu      sync.Mutex
	url     string
	media   any // *MediaSource or playback.Blob
	gen     uint64
	stopRun context.CancelFunc // cancels the running player, nil when idle
	onEnded func()
	onError func(error)
}

func newOutput(h *Host, opts ...OutputOption) *Output {
	o := &Output{
		host: h,
		log:  h.log,
		argv: DefaultCommand,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetSource implements [playback.Output]. Binding a new source stops a
// running player without firing ended.
func (o *Output) SetSource(url string) error {
	obj, err := o.host.resolve(url)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.stopLocked()
	o.url = url
	o.media = obj
	o.gen++
	o.mu.Unlock()

	if ms, ok := obj.(*MediaSource); ok {
		ms.attach()
	}
	return nil
}

// OnEnded implements [playback.Output]. fn runs on the goroutine that waited
// for the player.
func (o *Output) OnEnded(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEnded = fn
}

// OnError registers fn to receive the failure of a player that exited
// abnormally. ended does not fire for such a run. fn is not called for a
// player stopped through [Output.Stop], a new source or its context.
func (o *Output) OnError(fn func(error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = fn
}

// Play implements [playback.Output]. It returns once the player started;
// calling it while playing is a no-op. Cancelling ctx stops the player.
func (o *Output) Play(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopRun != nil {
		return nil
	}
	if o.media == nil {
		return fmt.Errorf("host: play without source: %w", ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var stdin io.Reader
	switch m := o.media.(type) {
	case *MediaSource:
		stdin = m.reader(runCtx)
	case playback.Blob:
		stdin = bytes.NewReader(m.Data)
	}

	cmd := exec.CommandContext(runCtx, o.argv[0], o.argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = o.stdout
	cmd.Stderr = o.stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("host: start player %q: %w", o.argv[0], err)
	}

	o.stopRun = cancel
	gen := o.gen
	o.log.Debug("host: player started", "url", o.url, "pid", cmd.Process.Pid)

	go o.wait(runCtx, cmd, gen)
	return nil
}

// Playing reports whether a player process is running.
func (o *Output) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopRun != nil
}

// Stop terminates a running player without firing ended.
func (o *Output) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *Output) stopLocked() {
	if o.stopRun != nil {
		o.stopRun()
		o.stopRun = nil
	}
}

func (o *Output) wait(ctx context.Context, cmd *exec.Cmd, gen uint64) {
	err := cmd.Wait()
	stopped := ctx.Err()

	o.mu.Lock()
	current := gen == o.gen && o.stopRun != nil
	if current {
		o.stopRun()
		o.stopRun = nil
	}
	ended, failed := o.onEnded, o.onError
	o.mu.Unlock()

	switch {
	case stopped != nil:
		o.log.Debug("host: player stopped", "err", stopped)
		return
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			o.log.Warn("host: player exited with error", "code", exitErr.ExitCode())
		} else {
			o.log.Warn("host: player failed", "err", err)
		}
		if current && failed != nil {
			failed(fmt.Errorf("host: player %q: %w", o.argv[0], err))
		}
		return
	}
	if current && ended != nil {
		ended()
	}
}
