package types

import "log/slog"

const redacted = "[redacted]"

// SecretString holds a credential (billing API key, database password) that
// must never reach logs or JSON output. fmt, encoding/json and slog all see
// the redacted form; call Reveal to get the raw value.
type SecretString string

func (s SecretString) String() string { return redacted }

// GoString covers the %#v verb, which bypasses String.
func (s SecretString) GoString() string { return redacted }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// Reveal returns the plaintext. Only transport and driver setup should need it.
func (s SecretString) Reveal() string {
	return string(s)
}

// IsSet reports whether a non-empty secret was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
