package signature

// Namespace tags distinguish what kind of subject an envelope binds to.
const (
	NamespaceCapsule = "ttd-capsule"
	NamespaceRollup  = "ttd-rollup"
)

// Version tags the envelope format.
const Version = "ttd-sig-v1"

// Envelope binds a detached signature to exactly one subject. The signature
// is produced by an external signer over SHA3-256(subject bytes); the
// envelope is stored beside its subject, never inside it.
type Envelope struct {
	Version     string `json:"version"`
	Namespace   string `json:"namespace"`
	Principal   string `json:"principal"`
	Algorithm   string `json:"algorithm"`
	PublicKey   string `json:"public_key"`
	Signature   string `json:"signature"`
	PayloadHash string `json:"payload_hash"`
	IssuedAt    string `json:"issued_at"`
}

// Status enumerates verification outcomes.
type Status string

const (
	StatusValid Status = "VALID"
	// StatusUnknownPrincipal: the principal is not registered for the
	// envelope's namespace.
	StatusUnknownPrincipal Status = "UNKNOWN_PRINCIPAL"
	// StatusNamespaceMismatch: the envelope was produced under a different
	// namespace than the subject the caller asserts.
	StatusNamespaceMismatch Status = "NAMESPACE_MISMATCH"
	// StatusSubjectBytesMismatch: the caller supplied different bytes than
	// were actually signed. Distinguished from a cryptographic failure.
	StatusSubjectBytesMismatch Status = "SUBJECT_BYTES_MISMATCH"
	// StatusSignatureMismatch: the cryptographic primitive rejected the
	// signature under the principal's registered key.
	StatusSignatureMismatch Status = "SIGNATURE_MISMATCH"
	// StatusMalformedEnvelope: unparseable fields, unsupported version or
	// algorithm.
	StatusMalformedEnvelope Status = "MALFORMED_ENVELOPE"
)

// Result is the outcome of verifying one envelope.
type Result struct {
	Status  Status         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Valid reports whether the envelope verified.
func (r Result) Valid() bool { return r.Status == StatusValid }
