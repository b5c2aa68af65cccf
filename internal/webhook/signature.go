package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/frahmantamala/payment-reconciliation/internal"
)

const signaturePrefix = "sha256="

var signatureFormat = regexp.MustCompile(`^sha256=[0-9a-f]{64}$`)

// SecretProvider returns the secrets a signature may be made with, current first.
// More than one is returned only while a secret rotation is in progress.
type SecretProvider interface {
	WebhookSecrets(ctx context.Context) []string
}

type StaticSecrets []string

func (s StaticSecrets) WebhookSecrets(context.Context) []string {
	out := make([]string, 0, len(s))
	for _, secret := range s {
		if secret != "" {
			out = append(out, secret)
		}
	}
	return out
}

// Sign returns the header value for body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is a valid HMAC-SHA256 of body.
// Any malformed input yields false.
func VerifySignature(body []byte, signature, secret string) bool {
	if len(secret) < internal.MinWebhookSecretLength {
		return false
	}
	if !signatureFormat.MatchString(signature) {
		return false
	}

	provided, err := hex.DecodeString(signature[len(signaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return false
	}
	return hmac.Equal(provided, expected)
}

type Verifier struct {
	secrets SecretProvider
}

func NewVerifier(secrets SecretProvider) *Verifier {
	return &Verifier{secrets: secrets}
}

// Verify checks every active secret so deliveries signed before a rotation
// still pass. The caller learns nothing about which part was wrong.
func (v *Verifier) Verify(ctx context.Context, body []byte, signature string) bool {
	valid := false
	for _, secret := range v.secrets.WebhookSecrets(ctx) {
		if VerifySignature(body, signature, secret) {
			valid = true
		}
	}
	return valid
}
