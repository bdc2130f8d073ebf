package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "tier-live-key-0123456789"

func TestSecretString_Formatting(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v", "%#v"} {
		got := fmt.Sprintf(verb, s)
		if strings.Contains(got, testSecret) {
			t.Errorf("fmt.Sprintf(%q) leaked the secret: %s", verb, got)
		}
	}
}

func TestSecretString_JSONInStruct(t *testing.T) {
	type billing struct {
		APIKey SecretString `json:"api_key"`
		URL    string       `json:"url"`
	}

	data, err := json.Marshal(billing{APIKey: testSecret, URL: "https://api.tier.run"})
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("json output leaked the secret: %s", data)
	}
	if !strings.Contains(string(data), `"url":"https://api.tier.run"`) {
		t.Errorf("json output dropped a plain field: %s", data)
	}
}

func TestSecretString_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("configured", "api_key", SecretString(testSecret))

	if strings.Contains(buf.String(), testSecret) {
		t.Errorf("slog output leaked the secret: %s", buf.String())
	}
	if !strings.Contains(buf.String(), redacted) {
		t.Errorf("slog output missing placeholder: %s", buf.String())
	}
}

func TestSecretString_Reveal(t *testing.T) {
	s := SecretString(testSecret)
	if s.Reveal() != testSecret {
		t.Errorf("Reveal() = %q, want %q", s.Reveal(), testSecret)
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for non-empty secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for empty secret")
	}
}
