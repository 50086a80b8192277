package signature

import (
	"crypto/ed25519"
	"time"
)

// Sign is the stand-in for the external signing tool: it produces a detached
// ed25519 signature over SHA3-256(subjectBytes) and wraps it in an envelope.
// The ledger service itself never calls this; it exists for ttdctl and for
// tests. Key material management stays outside this module.
func Sign(subjectBytes []byte, priv ed25519.PrivateKey, namespace, principal string, issuedAt time.Time) Envelope {
	digest := SubjectDigest(subjectBytes)
	sig := ed25519.Sign(priv, digest)
	return Attach(subjectBytes, sig, priv.Public().(ed25519.PublicKey), namespace, principal, issuedAt)
}
