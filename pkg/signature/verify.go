package signature

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Signers is the trusted-signer registry consulted during verification.
// Implementations return the registered public key for a principal within a
// namespace, or false when no such binding exists.
type Signers interface {
	KeyFor(principal, namespace string) (ed25519.PublicKey, bool)
}

// Verify checks env against subjectBytes under the given namespace. It is
// pure: no ledger state is read or written.
//
// The envelope is VALID only if (a) its principal is registered for the
// namespace and (b) ed25519 confirms the signature over
// SHA3-256(subjectBytes) with the principal's registered key. All failure
// modes are enumerated, and a subject-bytes disagreement is reported
// distinctly from a cryptographic failure.
func Verify(subjectBytes []byte, namespace string, env Envelope, signers Signers) Result {
	if strings.TrimSpace(env.Version) != Version {
		return Result{Status: StatusMalformedEnvelope, Details: map[string]any{"version": env.Version}}
	}
	if strings.ToLower(strings.TrimSpace(env.Algorithm)) != "ed25519" {
		return Result{Status: StatusMalformedEnvelope, Details: map[string]any{"algorithm": env.Algorithm}}
	}
	if env.IssuedAt != "" {
		if _, err := time.Parse(time.RFC3339Nano, env.IssuedAt); err != nil {
			return Result{Status: StatusMalformedEnvelope, Details: map[string]any{"issued_at": env.IssuedAt}}
		}
	}
	if env.Namespace != namespace {
		return Result{Status: StatusNamespaceMismatch, Details: map[string]any{
			"envelope_namespace": env.Namespace,
			"subject_namespace":  namespace,
		}}
	}

	key, ok := signers.KeyFor(env.Principal, env.Namespace)
	if !ok {
		return Result{Status: StatusUnknownPrincipal, Details: map[string]any{"principal": env.Principal}}
	}

	expected := SubjectDigest(subjectBytes)
	claimed, err := decodeLowerHex32(strings.TrimSpace(env.PayloadHash))
	if err != nil {
		return Result{Status: StatusMalformedEnvelope, Details: map[string]any{"payload_hash": env.PayloadHash}}
	}
	if subtle.ConstantTimeCompare(expected, claimed) != 1 {
		return Result{Status: StatusSubjectBytesMismatch}
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Result{Status: StatusMalformedEnvelope, Details: map[string]any{"field": "signature"}}
	}
	if !ed25519.Verify(key, expected, sig) {
		return Result{Status: StatusSignatureMismatch}
	}
	return Result{Status: StatusValid}
}

// SubjectDigest is the exact byte sequence the external signer must sign:
// the SHA3-256 digest of the canonical subject bytes.
func SubjectDigest(subjectBytes []byte) []byte {
	digest := sha3.Sum256(subjectBytes)
	return digest[:]
}

// Attach wraps an externally produced detached signature into an envelope
// bound to subjectBytes. The core never generates sigBytes itself.
func Attach(subjectBytes, sigBytes []byte, publicKey ed25519.PublicKey, namespace, principal string, issuedAt time.Time) Envelope {
	return Envelope{
		Version:     Version,
		Namespace:   namespace,
		Principal:   principal,
		Algorithm:   "ed25519",
		PublicKey:   base64.StdEncoding.EncodeToString(publicKey),
		Signature:   base64.StdEncoding.EncodeToString(sigBytes),
		PayloadHash: hex.EncodeToString(SubjectDigest(subjectBytes)),
		IssuedAt:    issuedAt.UTC().Format(time.RFC3339),
	}
}

func decodeLowerHex32(s string) ([]byte, error) {
	if s == "" || s != strings.ToLower(s) {
		return nil, errBadHex
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, errBadHex
	}
	return b, nil
}

type hexError struct{}

func (hexError) Error() string { return "payload_hash must be 32 lowercase hex bytes" }

var errBadHex = hexError{}
