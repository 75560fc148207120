package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignIsDeterministicAndOrderIndependent(t *testing.T) {
	a := map[string]string{"apiKey": "k", "token": "tok", "amount": "990"}
	b := map[string]string{"token": "tok", "amount": "990", "apiKey": "k"}

	assert.Equal(t, Sign(a, "secret"), Sign(b, "secret"))
	assert.Len(t, Sign(a, "secret"), 64)
}

func TestSignChangesWithAnyValue(t *testing.T) {
	base := map[string]string{"apiKey": "k", "token": "tok"}
	sig := Sign(base, "secret")

	changed := map[string]string{"apiKey": "k", "token": "tok2"}
	assert.NotEqual(t, sig, Sign(changed, "secret"))
	assert.NotEqual(t, sig, Sign(base, "other"))
}

func TestSignIgnoresSignatureField(t *testing.T) {
	params := map[string]string{"apiKey": "k", "token": "tok"}
	withSig := map[string]string{"apiKey": "k", "token": "tok", SignatureParam: "whatever"}

	assert.Equal(t, Sign(params, "secret"), Sign(withSig, "secret"))
}

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA256("secret", "amount990apiKeyk")
	params := map[string]string{"apiKey": "k", "amount": "990"}
	assert.Equal(t, "3eaa76d17db83813ebe6c6f180e345d92d5bd9bd7ba5f968aa975cfbafd6576d", Sign(params, "secret"))
}
