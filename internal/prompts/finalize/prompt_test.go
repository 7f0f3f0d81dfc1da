package finalize

import (
	"strings"
	"testing"

	"github.com/jackzampolin/guideshelf/internal/prompts"
)

func TestScreenUserPrompt(t *testing.T) {
	got, err := ScreenUserPrompt(ScreenInput{Subtopics: []Subtopic{
		{TopicKey: "motion", SubtopicKey: "speed", Summary: "distance over time"},
		{TopicKey: "kinematics", SubtopicKey: "velocity", Summary: "rate of change of distance"},
	}})
	if err != nil {
		t.Fatalf("ScreenUserPrompt: %v", err)
	}
	for _, want := range []string{"motion/speed: distance over time", "kinematics/velocity"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestCheckUserPrompt(t *testing.T) {
	got, err := CheckUserPrompt(CheckInput{
		A: CheckSide{ID: "a/x", Title: "X", Content: "alpha"},
		B: CheckSide{ID: "b/y", Title: "Y", Content: "beta"},
	})
	if err != nil {
		t.Fatalf("CheckUserPrompt: %v", err)
	}
	if !strings.Contains(got, "Guideline A (a/x): X\nalpha") {
		t.Errorf("unexpected prompt:\n%s", got)
	}
}

func TestRegisterPrompts(t *testing.T) {
	c := prompts.NewCatalog()
	RegisterPrompts(c)
	if _, ok := c.Get(DuplicateCheckKey + ".system"); !ok {
		t.Error("duplicate check prompt not registered")
	}
}
