package tracekit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"

	"github.com/ampkernel/amp/kernelerr"
)

// Signer holds a fresh Ed25519 keypair generated at construction, used to
// sign every trace emitted by a single plan execution.
//
// No ed25519 signing library appears anywhere in the examples this module
// was grounded on; the standard library's crypto/ed25519 is the natural
// substitute and needs no third-party dependency (see DESIGN.md).
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 keypair.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, kernelerr.StorageError("tracekit.NewSigner", err.Error())
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// PublicKey returns the signer's public key, for distribution to verifiers.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Sign computes the canonical signature over trace and stores it,
// base64-encoded, on the trace itself.
func (s *Signer) Sign(t *Trace) {
	sig := ed25519.Sign(s.priv, []byte(t.canonicalString()))
	t.Signature = base64.StdEncoding.EncodeToString(sig)
}

// VerifySignature decodes t.Signature, checks its length, and verifies it
// against the canonical string under pub.
func VerifySignature(t *Trace, pub ed25519.PublicKey) (bool, error) {
	if t.Signature == "" {
		return false, kernelerr.Validation("tracekit.VerifySignature", t.StepID, "no signature present")
	}
	sig, err := base64.StdEncoding.DecodeString(t.Signature)
	if err != nil {
		return false, kernelerr.Validation("tracekit.VerifySignature", t.StepID, "invalid signature encoding: "+err.Error())
	}
	if len(sig) != ed25519.SignatureSize {
		return false, kernelerr.Validation("tracekit.VerifySignature", t.StepID, "invalid signature length")
	}
	return ed25519.Verify(pub, []byte(t.canonicalString()), sig), nil
}
