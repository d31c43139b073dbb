// Package interactive presents update decisions on a terminal.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/adamancini/keel/internal/driver"
)

// Prompter asks the user to resolve update alerts.
type Prompter struct {
	in         io.Reader
	out        io.Writer
	scanner    *bufio.Scanner
	approveAll bool
}

// NewPrompter creates a prompter with stdin/stdout.
func NewPrompter() *Prompter {
	return NewPrompterWithIO(os.Stdin, os.Stdout)
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      in,
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// ApproveAll makes every later prompt answer Install without asking.
func (p *Prompter) ApproveAll() {
	p.approveAll = true
}

// IsTerminal checks if stdin is a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Decide shows alert and reads the answer. End of input means Later.
func (p *Prompter) Decide(alert driver.Alert) driver.Choice {
	_, _ = fmt.Fprintf(p.out, "\nA new version of %s is available.\n", alert.AppName)
	_, _ = fmt.Fprintf(p.out, "  Installed: %s\n", alert.CurrentVersion)
	_, _ = fmt.Fprintf(p.out, "  Available: %s\n", alert.NewVersion)
	if notes := strings.TrimSpace(alert.ReleaseNotes); notes != "" {
		_, _ = fmt.Fprintln(p.out, "\nRelease notes:")
		for _, line := range strings.Split(notes, "\n") {
			_, _ = fmt.Fprintf(p.out, "  %s\n", line)
		}
	}

	if p.approveAll {
		_, _ = fmt.Fprintln(p.out, "Installing (approved).")
		return driver.Install
	}

	for attempts := 0; attempts < 3; attempts++ {
		_, _ = fmt.Fprint(p.out, "\nInstall now? [i]nstall / [s]kip this version / [l]ater ")

		if !p.scanner.Scan() {
			return driver.Later
		}

		switch strings.ToLower(strings.TrimSpace(p.scanner.Text())) {
		case "i", "install", "y", "yes":
			return driver.Install
		case "s", "skip":
			_, _ = fmt.Fprintf(p.out, "  %s Version %s will not be offered again\n", skipSymbol, alert.NewVersion)
			return driver.Skip
		case "l", "later", "n", "no", "":
			return driver.Later
		default:
			_, _ = fmt.Fprintln(p.out, "Invalid response.")
		}
	}
	return driver.Later
}

// Summary prints a one-line outcome for a finished session.
func (p *Prompter) Summary(r driver.Result) {
	symbol := okSymbol
	if r.Reason.IsError() {
		symbol = failSymbol
	}
	switch {
	case r.Installed():
		_, _ = fmt.Fprintf(p.out, "%s Installed %s\n", symbol, r.Version)
	case r.Err != nil && r.Reason.IsError():
		_, _ = fmt.Fprintf(p.out, "%s %s: %v\n", symbol, titleCase(r.Reason.String()), r.Err)
	default:
		_, _ = fmt.Fprintf(p.out, "%s %s\n", symbol, titleCase(r.Reason.String()))
	}
}

// Symbols for output
const (
	okSymbol   = "ok"
	failSymbol = "!!"
	skipSymbol = "-"
)

// titleCase capitalizes the first letter of a string.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
