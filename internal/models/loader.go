package models

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Loader draws a spinner next to a status message while a long AWS or
// engine call runs. Without ANSI support it prints the message once instead
// of redrawing, which keeps CI logs readable.
//
//	l := models.NewLoader(os.Stdout, "Validating AWS credentials...")
//	l.Start()
//	defer l.Stop()
type Loader struct {
	mu       sync.Mutex
	msg      string
	frames   []string
	interval time.Duration
	out      io.Writer
	ansi     bool

	stopCh chan struct{}
	doneCh chan struct{}
	active bool
}

// Option configures the loader.
type Option func(*Loader)

// WithInterval sets frame interval.
func WithInterval(d time.Duration) Option { return func(l *Loader) { l.interval = d } }

// WithANSI forces ANSI on/off.
func WithANSI(enabled bool) Option { return func(l *Loader) { l.ansi = enabled } }

// NewLoader creates a loader writing to out (stdout when nil).
func NewLoader(out io.Writer, message string, opts ...Option) *Loader {
	if out == nil {
		out = os.Stdout
	}
	l := &Loader{
		msg:      message,
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		interval: 100 * time.Millisecond,
		out:      out,
		ansi:     isTerminal(out),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Start begins the spinner; repeated calls are ignored.
func (l *Loader) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return
	}
	l.active = true

	if !l.ansi {
		fmt.Fprintf(l.out, "… %s\n", l.msg)
		return
	}

	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.spin(l.stopCh, l.doneCh)
}

func (l *Loader) spin(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	fmt.Fprint(l.out, "\x1b[?25l")
	for i := 0; ; i++ {
		l.mu.Lock()
		fmt.Fprintf(l.out, "\r\x1b[2K\x1b[36m%s\x1b[0m %s", l.frames[i%len(l.frames)], l.msg)
		l.mu.Unlock()

		select {
		case <-stop:
			fmt.Fprint(l.out, "\r\x1b[2K\x1b[?25h")
			return
		case <-ticker.C:
		}
	}
}

// Stop stops the spinner and clears its line.
func (l *Loader) Stop() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.active = false
	stop, done := l.stopCh, l.doneCh
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// StopWithMessage stops the spinner and prints a final message.
func (l *Loader) StopWithMessage(finalMsg string) {
	l.Stop()
	if strings.TrimSpace(finalMsg) != "" {
		fmt.Fprintln(l.out, finalMsg)
	}
}

// SetMessage updates the message displayed after the spinner.
func (l *Loader) SetMessage(m string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msg = m
}

// Active returns whether the loader is currently running.
func (l *Loader) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
