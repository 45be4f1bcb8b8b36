// Package prompt implements the interactive device chooser: it renders
// scan results as a numbered table on the terminal and reads the
// operator's pick from stdin, with an optional timeout so unattended
// reconnects fall through to a rescan.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"hrlink/scanner"
)

// Chooser asks the operator to pick one candidate from a scan result.
// It satisfies the manager's Chooser interface.
type Chooser struct {
	logger      *logrus.Logger
	in          io.Reader
	out         io.Writer
	interactive bool

	once  sync.Once
	lines chan string
}

// New builds a chooser on stdin/stdout. When stdin is not a terminal the
// chooser declines every choice, which reads as "rescan" upstream.
func New(logger *logrus.Logger) *Chooser {
	return &Chooser{
		logger:      logger,
		in:          os.Stdin,
		out:         os.Stdout,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// NewWithIO builds a chooser on explicit streams, always interactive.
func NewWithIO(logger *logrus.Logger, in io.Reader, out io.Writer) *Chooser {
	return &Chooser{
		logger:      logger,
		in:          in,
		out:         out,
		interactive: true,
	}
}

// readLoop feeds stdin lines into c.lines. A single goroutine owns the
// reader for the process lifetime so a timed-out prompt does not eat the
// line typed for the next one.
func (c *Chooser) readLoop() {
	c.lines = make(chan string)
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
}

// Choose renders the candidate table and waits for a selection. A zero
// timeout waits indefinitely. Returns ok=false on timeout, EOF or an
// explicit rescan request.
func (c *Chooser) Choose(ctx context.Context, candidates []scanner.Candidate, timeout time.Duration) (scanner.Candidate, bool, error) {
	if !c.interactive {
		c.logger.Debug("No terminal on stdin; skipping interactive selection")
		return scanner.Candidate{}, false, nil
	}
	c.once.Do(c.readLoop)

	c.render(candidates)

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}

	for {
		select {
		case <-ctx.Done():
			return scanner.Candidate{}, false, ctx.Err()
		case <-deadline:
			fmt.Fprintln(c.out, "No selection made, rescanning...")
			return scanner.Candidate{}, false, nil
		case line, ok := <-c.lines:
			if !ok {
				c.interactive = false
				return scanner.Candidate{}, false, nil
			}
			cand, picked, valid := parseChoice(line, candidates)
			if !valid {
				fmt.Fprintf(c.out, "Please enter a number between 1 and %d, or r to rescan: ", len(candidates))
				continue
			}
			return cand, picked, nil
		}
	}
}

// parseChoice interprets one input line. valid=false asks to re-prompt.
func parseChoice(line string, candidates []scanner.Candidate) (cand scanner.Candidate, picked, valid bool) {
	s := strings.ToLower(strings.TrimSpace(line))
	if s == "" || s == "r" {
		return scanner.Candidate{}, false, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > len(candidates) {
		return scanner.Candidate{}, false, false
	}
	return candidates[n-1], true, true
}

var (
	numberColor = color.New(color.FgCyan, color.Bold)
	knownColor  = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
)

func (c *Chooser) render(candidates []scanner.Candidate) {
	fmt.Fprintln(c.out, "Select a heart-rate sensor:")
	for i, cand := range candidates {
		name := cand.Name
		if cand.Known && cand.Identity.Name != "" {
			name = cand.Identity.Name
		}
		fmt.Fprintf(c.out, "  %s %s %s",
			numberColor.Sprintf("[%d]", i+1),
			name,
			dimColor.Sprintf("(%s, RSSI %d)", cand.Addr, cand.RSSI))
		if cand.Known {
			fmt.Fprintf(c.out, " %s", knownColor.Sprint("known"))
		}
		fmt.Fprintln(c.out)
	}
	fmt.Fprint(c.out, "Enter a number, or r to rescan: ")
}
