package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7.
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_TrimHistory_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	history := []*schema.Message{
		schema.UserMessage("hi"),
		schema.UserMessage("there"),
	}
	if got := TrimHistory(fixed, history, DefaultMaxContextTokens); len(got) != 2 {
		t.Errorf("want 2 history messages, got %d", len(got))
	}
}

func Test_TrimHistory_DropsOldest(t *testing.T) {
	t.Parallel()
	history := []*schema.Message{
		schema.UserMessage("oldest"),
		schema.UserMessage("newest"),
	}
	// Each history message estimates to 6 tokens; a budget of 7 fits exactly
	// one, so the oldest should be dropped.
	got := TrimHistory([]*schema.Message{}, history, 7)
	if len(got) != 1 {
		t.Fatalf("want 1 history message after trim, got %d", len(got))
	}
	if got[0].Content != "newest" {
		t.Errorf("want newest message retained, got %q", got[0].Content)
	}
}

func Test_TrimHistory_EmptyHistory(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("x", 100000))}
	if got := TrimHistory(fixed, nil, 100); len(got) != 0 {
		t.Errorf("want empty history, got %d messages", len(got))
	}
}
