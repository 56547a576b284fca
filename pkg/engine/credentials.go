package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Credentials carries the Basic authentication material shared by the portal and
// every engine. It is passed by value into each client that needs it.
type Credentials struct {
	basic string
}

// FromBase64 wraps an already encoded "user:password" pair, as stored in the
// configuration file.
func FromBase64(encoded string) (Credentials, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Credentials{}, errors.New("credentials are empty")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	user, _, ok := strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return Credentials{}, errors.New("credentials must encode user:password")
	}
	return Credentials{basic: encoded}, nil
}

// FromUserPassword encodes user and password into Credentials.
func FromUserPassword(user, password string) (Credentials, error) {
	if user == "" {
		return Credentials{}, errors.New("username is empty")
	}
	if password == "" {
		return Credentials{}, errors.New("password is empty")
	}
	return Credentials{basic: base64.StdEncoding.EncodeToString([]byte(user + ":" + password))}, nil
}

// IsZero reports whether no credentials were configured.
func (c Credentials) IsZero() bool { return c.basic == "" }

// Header returns the Authorization header value.
func (c Credentials) Header() string { return "Basic " + c.basic }

// String never reveals the secret.
func (c Credentials) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return "<redacted>"
}
