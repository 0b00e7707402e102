package recall

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const secretPrefix = "whsec_"

var ErrNoMatchingSignature = errors.New("no matching signature found")

// Verifier authenticates requests coming from Recall.
type Verifier interface {
	// Verify checks headers against payload. payload is nil for requests
	// without a body such as WebSocket upgrades.
	Verify(headers http.Header, payload []byte) error
}

// NopVerifier accepts every request.
type NopVerifier struct{}

func (NopVerifier) Verify(http.Header, []byte) error {
	return nil
}

// SecretVerifier checks the HMAC-SHA256 signature headers sent with a
// workspace verification secret.
type SecretVerifier struct {
	key []byte
}

func NewSecretVerifier(secret string) (*SecretVerifier, error) {
	if !strings.HasPrefix(secret, secretPrefix) {
		return nil, fmt.Errorf("verification secret is missing or invalid")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("verification secret is not valid base64: %w", err)
	}
	return &SecretVerifier{key: key}, nil
}

// NewVerifier returns a NopVerifier when secret is empty.
func NewVerifier(secret string) (Verifier, error) {
	if secret == "" {
		return NopVerifier{}, nil
	}
	return NewSecretVerifier(secret)
}

func header(h http.Header, names ...string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// Sign returns the base64 signature of payload for the given message id
// and timestamp.
func (v *SecretVerifier) Sign(id, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (v *SecretVerifier) Verify(headers http.Header, payload []byte) error {
	id := header(headers, "webhook-id", "svix-id")
	timestamp := header(headers, "webhook-timestamp", "svix-timestamp")
	signature := header(headers, "webhook-signature", "svix-signature")
	if id == "" || timestamp == "" || signature == "" {
		return fmt.Errorf("missing webhook id (%q), timestamp (%q) or signature", id, timestamp)
	}

	expected, _ := base64.StdEncoding.DecodeString(v.Sign(id, timestamp, payload))

	for _, versioned := range strings.Split(signature, " ") {
		version, sig, ok := strings.Cut(versioned, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return ErrNoMatchingSignature
}
