package audit

import (
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"OPENAI_API_KEY", "GROQ_API_KEY", "REDIS_PASSWORD", "BOOKSAGE_API_KEY", "LANGFUSE_SECRET_KEY"} {
		if got := SanitiseKey(key, "sk-supersecret"); got != "set" {
			t.Errorf("SanitiseKey(%q, secret) = %q, want %q", key, got, "set")
		}
		if got := SanitiseKey(key, ""); got != "unset" {
			t.Errorf("SanitiseKey(%q, empty) = %q, want %q", key, got, "unset")
		}
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()

	if got := SanitiseKey("MODEL_PROVIDER", "groq"); got != "groq" {
		t.Errorf("SanitiseKey(MODEL_PROVIDER) = %q, want %q", got, "groq")
	}
	if got := SanitiseKey("QDRANT_HOST", ""); got != "unset" {
		t.Errorf("SanitiseKey(QDRANT_HOST, empty) = %q, want %q", got, "unset")
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()

	if got := presence("anything"); got != "set" {
		t.Errorf("presence(non-empty) = %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("presence(empty) = %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("sanitiseConfigPath(empty) = %q, want %q", got, "none")
	}
	if got := sanitiseConfigPath("/etc/booksage/config.yaml"); got != "/etc/booksage/config.yaml" {
		t.Errorf("sanitiseConfigPath(abs) = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := sanitiseConfigPath(home + "/.booksage/config.yaml")
	if !strings.HasPrefix(got, "~/") {
		t.Errorf("sanitiseConfigPath(home-relative) = %q, want ~ prefix", got)
	}
}
