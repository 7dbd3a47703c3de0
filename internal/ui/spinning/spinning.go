// Package spinning displays a spinning symbol next to a message while a long computation (like compiling
// a model graph) runs, and handles interruptions of command-line programs.
package spinning

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"golang.org/x/term"
	"io"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Spinning is a running spinner, created with New and stopped with Done.
type Spinning struct {
	wg     sync.WaitGroup
	cancel func()
}

var (
	ThemeAscii = []rune("|/-\\")
	ThemeMoon  = []rune("🌑🌒🌓🌔🌕🌖🌗🌘")
	ThemeClock = []rune("🕐🕑🕒🕓🕔🕕🕖🕗🕘🕙🕚🕛")

	// Theme defaults to ThemeAscii, but it can be set to anything else.
	Theme = ThemeAscii

	// Output where the spinner is drawn. It is only drawn if Output is a terminal.
	Output io.Writer = os.Stderr

	// Period between updates of the spinning symbol.
	Period = 250 * time.Millisecond
)

// Themes by name, see SetTheme.
var Themes = map[string][]rune{
	"ascii": ThemeAscii,
	"moon":  ThemeMoon,
	"clock": ThemeClock,
}

// SetTheme sets Theme to the one with the given name in Themes.
func SetTheme(name string) error {
	theme, found := Themes[name]
	if !found {
		return errors.Errorf("unknown spinner theme %q, valid values are \"ascii\", \"moon\" or \"clock\"", name)
	}
	Theme = theme
	return nil
}

// SafeInterrupt captures SigInt (Ctrl+C) and SigTerm and calls onInterrupt.
// If the program hasn't exited after gracePeriod, it resets the terminal and exits.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		_, _ = fmt.Fprintln(Output)
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Graceful shutting down %s period expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	_, _ = fmt.Fprint(Output, "\033[?25h\033[39;49;0m\n")
}

// isTerminal returns whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// New prints message and starts a spinner after it, on a separate goroutine. It stops when Spinning.Done is
// called or ctx is cancelled.
//
// If Output is not a terminal, only the message is printed.
func New(ctx context.Context, message string) *Spinning {
	s := &Spinning{}
	ctx, s.cancel = context.WithCancel(ctx)
	if !isTerminal(Output) {
		klog.Info(message)
		return s
	}
	theme := Theme
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(Period)
		defer ticker.Stop()
		_, _ = fmt.Fprintf(Output, "\033[?25l%s  ", message) // Hide cursor.
		defer func() {
			// Erase line and restore cursor.
			_, _ = fmt.Fprint(Output, "\r\033[0K\033[?25h")
		}()
		for idx := 0; ; idx = (idx + 1) % len(theme) {
			_, _ = fmt.Fprintf(Output, "\b\b%c ", theme[idx])
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// Done stops the spinner and erases it. It's safe to call more than once.
func (s *Spinning) Done() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}
