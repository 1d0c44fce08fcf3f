package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/applyd/internal/engine"
)

// mockGenerator implements engine.Generator for testing.
type mockGenerator struct {
	response string
	err      error
	prompts  []string
	opts     []engine.GenerateOptions
}

func (m *mockGenerator) Generate(_ context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
	m.prompts = append(m.prompts, prompt)
	m.opts = append(m.opts, opts)
	return m.response, m.err
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		raw  string
		want Verdict
	}{
		{"YES", VerdictGrounding},
		{"  YES\n", VerdictGrounding},
		{"NO", VerdictContinuation},
		{"\tNO ", VerdictContinuation},
		{"yes", VerdictUncertain},
		{"YES.", VerdictUncertain},
		{"Answer: YES", VerdictUncertain},
		{"", VerdictUncertain},
		{"MAYBE", VerdictUncertain},
	}
	for _, tt := range tests {
		if got := ParseVerdict(tt.raw); got != tt.want {
			t.Errorf("ParseVerdict(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestIsGroundingEvent(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     bool
	}{
		{"yes", "YES", true},
		{"no", "NO", false},
		{"lowercase fails closed", "yes", false},
		{"chatty fails closed", "YES, this is a job description.", false},
		{"empty fails closed", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&mockGenerator{response: tt.response}, 4096)
			got, err := c.IsGroundingEvent(context.Background(), "We are hiring a Go engineer")
			if err != nil {
				t.Fatalf("IsGroundingEvent: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsGroundingEvent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsGroundingEvent_GeneratorErrorPropagates(t *testing.T) {
	boom := errors.New("backend unavailable")
	c := NewClassifier(&mockGenerator{err: boom}, 4096)

	got, err := c.IsGroundingEvent(context.Background(), "hi")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}
	if got {
		t.Error("got true on error, want false")
	}
}

func TestClassify_PromptAndOptions(t *testing.T) {
	gen := &mockGenerator{response: "NO"}
	c := NewClassifier(gen, 4096)

	if _, err := c.Classify(context.Background(), "Hope you are well"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "Message: \"Hope you are well\"\nAnswer:") {
		t.Errorf("prompt does not end with the message slot:\n%s", gen.prompts[0])
	}
	if gen.opts[0].MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", gen.opts[0].MaxTokens)
	}
	if gen.opts[0].Stop != nil {
		t.Errorf("Stop = %v, want nil", gen.opts[0].Stop)
	}
}

func TestClassify_Stateless(t *testing.T) {
	gen := &mockGenerator{response: "YES"}
	c := NewClassifier(gen, 0)

	for _, msg := range []string{"first", "second"} {
		if _, err := c.Classify(context.Background(), msg); err != nil {
			t.Fatalf("Classify: %v", err)
		}
	}
	if strings.Contains(gen.prompts[1], "first") {
		t.Error("second prompt leaks the earlier message")
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Senior SRE role")
	if strings.Contains(p, "{message}") {
		t.Error("placeholder not substituted")
	}
	if !strings.Contains(p, "Answer only YES or NO. Do not explain.") {
		t.Error("prompt missing answer instruction")
	}
	if !strings.Contains(p, `Message: "Senior SRE role"`) {
		t.Error("prompt missing message")
	}
}
