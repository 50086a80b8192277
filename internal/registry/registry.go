// Package registry holds the trusted-signer bindings consulted during
// signature verification. The registry file maps principal identities to
// ed25519 public keys and the namespaces each principal may sign under.
//
// The registry is loaded once at startup into an immutable snapshot.
// Rotation replaces the whole snapshot atomically; a verification in flight
// sees either the old set or the new set, never a half-updated one.
package registry

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Entry is one principal's registered binding.
type Entry struct {
	Principal  string   `yaml:"principal"`
	PublicKey  string   `yaml:"public_key"` // std base64 ed25519 key
	Namespaces []string `yaml:"namespaces"`
}

type registryFile struct {
	Signers []Entry `yaml:"signers"`
}

type snapshot struct {
	// keyed by principal + "\x00" + namespace
	keys map[string]ed25519.PublicKey
}

// Registry is a reloadable trusted-signer set. It implements
// signature.Signers.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// Load parses the registry file at path.
func Load(path string) (*Registry, error) {
	r := &Registry{}
	r.current.Store(&snapshot{keys: map[string]ed25519.PublicKey{}})
	if err := r.Reload(path); err != nil {
		return nil, err
	}
	return r, nil
}

// Empty returns a registry with no trusted signers. Every verification
// against it reports an unknown principal.
func Empty() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{keys: map[string]ed25519.PublicKey{}})
	return r
}

// Reload re-reads path and swaps the snapshot in one step. On parse failure
// the previous snapshot stays in effect.
func (r *Registry) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", path, err)
	}
	snap, err := parse(data)
	if err != nil {
		return fmt.Errorf("registry: parse %s: %w", path, err)
	}
	r.current.Store(snap)
	return nil
}

// KeyFor returns the registered key for principal under namespace.
func (r *Registry) KeyFor(principal, namespace string) (ed25519.PublicKey, bool) {
	key, ok := r.current.Load().keys[bindingKey(principal, namespace)]
	return key, ok
}

// Put registers a binding directly, bypassing the file. Test and ttdctl
// convenience only.
func (r *Registry) Put(principal, namespace string, key ed25519.PublicKey) {
	old := r.current.Load()
	keys := make(map[string]ed25519.PublicKey, len(old.keys)+1)
	for k, v := range old.keys {
		keys[k] = v
	}
	keys[bindingKey(principal, namespace)] = key
	r.current.Store(&snapshot{keys: keys})
}

func parse(data []byte) (*snapshot, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	keys := make(map[string]ed25519.PublicKey)
	for _, e := range file.Signers {
		if e.Principal == "" {
			return nil, fmt.Errorf("signer entry missing principal")
		}
		raw, err := base64.StdEncoding.DecodeString(e.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("signer %s: bad public_key: %w", e.Principal, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("signer %s: public_key must be %d bytes", e.Principal, ed25519.PublicKeySize)
		}
		if len(e.Namespaces) == 0 {
			return nil, fmt.Errorf("signer %s: at least one namespace is required", e.Principal)
		}
		for _, ns := range e.Namespaces {
			keys[bindingKey(e.Principal, ns)] = ed25519.PublicKey(raw)
		}
	}
	return &snapshot{keys: keys}, nil
}

func bindingKey(principal, namespace string) string {
	return principal + "\x00" + namespace
}
