package interactive

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/adamancini/keel/internal/driver"
)

func testAlert() driver.Alert {
	return driver.Alert{
		AppName:        "Example",
		CurrentVersion: "1.0.0",
		NewVersion:     "1.1.0",
		ReleaseNotes:   "Faster.\nSmaller.",
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  driver.Choice
	}{
		{"install", "i\n", driver.Install},
		{"yes", "yes\n", driver.Install},
		{"skip", "s\n", driver.Skip},
		{"later", "l\n", driver.Later},
		{"empty line", "\n", driver.Later},
		{"no input", "", driver.Later},
		{"invalid then install", "what\ni\n", driver.Install},
		{"three invalid", "a\nb\nc\ni\n", driver.Later},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			p := NewPrompterWithIO(strings.NewReader(tt.input), output)

			if got := p.Decide(testAlert()); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideShowsAlert(t *testing.T) {
	output := &bytes.Buffer{}
	p := NewPrompterWithIO(strings.NewReader("l\n"), output)
	p.Decide(testAlert())

	for _, want := range []string{"Example", "Installed: 1.0.0", "Available: 1.1.0", "  Faster.", "  Smaller."} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("output missing %q:\n%s", want, output.String())
		}
	}
}

func TestDecideInvalidResponse(t *testing.T) {
	output := &bytes.Buffer{}
	p := NewPrompterWithIO(strings.NewReader("maybe\n"), output)
	p.Decide(testAlert())

	if !strings.Contains(output.String(), "Invalid response") {
		t.Errorf("expected 'Invalid response' message in output")
	}
}

func TestApproveAll(t *testing.T) {
	output := &bytes.Buffer{}
	p := NewPrompterWithIO(strings.NewReader(""), output)
	p.ApproveAll()

	if got := p.Decide(testAlert()); got != driver.Install {
		t.Errorf("Decide() = %v, want install", got)
	}
	if strings.Contains(output.String(), "[i]nstall") {
		t.Error("approved prompter still asked")
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name   string
		result driver.Result
		want   string
	}{
		{"installed", driver.Result{Reason: driver.None, Version: "1.1.0"}, "ok Installed 1.1.0"},
		{"no update", driver.Result{Reason: driver.NoUpdateFound}, "ok No update found"},
		{"failure", driver.Result{Reason: driver.VerificationFailed, Err: errors.New("bad signature")}, "!! Verification failed: bad signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			NewPrompterWithIO(strings.NewReader(""), output).Summary(tt.result)
			if got := strings.TrimSpace(output.String()); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTitleCase(t *testing.T) {
	if got := titleCase("no update found"); got != "No update found" {
		t.Errorf("titleCase() = %q", got)
	}
	if got := titleCase(""); got != "" {
		t.Errorf("titleCase(\"\") = %q", got)
	}
}
