package tracekit_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/ampkernel/amp/tracekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := tracekit.NewSigner()
	require.NoError(t, err)

	tr := tracekit.New("plan-1", "step-1", "step_start", time.Now(), map[string]string{"node": "a"})
	signer.Sign(tr)
	require.NotEmpty(t, tr.Signature)

	ok, err := tracekit.VerifySignature(tr, signer.PublicKey())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyFailsWithWrongKey(t *testing.T) {
	signer, err := tracekit.NewSigner()
	require.NoError(t, err)

	tr := tracekit.New("plan-1", "step-1", "step_start", time.Now(), nil)
	signer.Sign(tr)

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	ok, err := tracekit.VerifySignature(tr, otherPub)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMissingSignature(t *testing.T) {
	tr := tracekit.New("plan-1", "step-1", "step_start", time.Now(), nil)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = tracekit.VerifySignature(tr, pub)
	require.Error(t, err)
}
