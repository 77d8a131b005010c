// Package trustsvc implements the trust store: the HMAC-signed manifest
// that records which external scripts (signals and actions) have been
// explicitly trusted and are therefore eligible to run. Any script not
// in the manifest, or whose on-disk digest no longer matches, is
// refused at dispatch time.
package trustsvc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cupcake-sh/cupcake/internal/types"
)

// ErrNotTrusted is returned when a script path has no matching manifest
// entry, or its digest has drifted since it was trusted.
var ErrNotTrusted = errors.New("trustsvc: script is not trusted")

// ErrNoKey is returned by Save when the store was constructed without a
// signing key.
var ErrNoKey = errors.New("trustsvc: no signing key configured")

// Store loads, verifies, and mutates a trust manifest file on disk. It
// is safe for concurrent use; callers typically hold one Store per
// tier (global, project).
type Store struct {
	mu         sync.RWMutex
	path       string
	key        []byte
	manifest   types.TrustManifest
}

// New constructs a Store bound to manifestPath, signed with key. The
// manifest file need not exist yet; Update will create it.
func New(manifestPath string, key []byte) *Store {
	return &Store{
		path: manifestPath,
		key:  key,
		manifest: types.TrustManifest{
			Version: 1,
			Entries: make(map[string]types.TrustEntry),
		},
	}
}

// Load reads the manifest file and verifies its embedded signature
// before accepting its contents. A missing file is not an error: the
// store simply starts empty, matching fail-open semantics for a
// project that has not yet run `cupcake trust update`.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("trustsvc: read manifest: %w", err)
	}

	var doc signedManifest
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("trustsvc: parse manifest: %w", err)
	}

	if len(s.key) > 0 {
		expected := doc.Signature
		doc.Signature = ""
		body, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("trustsvc: re-marshal for verify: %w", err)
		}
		if !s.verifyMAC(body, expected) {
			return fmt.Errorf("trustsvc: manifest signature mismatch for %s", s.path)
		}
	}

	s.manifest = doc.TrustManifest
	if s.manifest.Entries == nil {
		s.manifest.Entries = make(map[string]types.TrustEntry)
	}
	return nil
}

// signedManifest wraps TrustManifest with the detached HMAC signature
// stored alongside it on disk.
type signedManifest struct {
	types.TrustManifest `yaml:",inline"`
	Signature           string `yaml:"signature"`
}

func (s *Store) computeMAC(body []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) verifyMAC(body []byte, sig string) bool {
	expected := s.computeMAC(body)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Save writes the current manifest to disk, re-signing it with the
// store's key. It creates parent directories as needed with 0700
// permissions, matching the persisted-state layout.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.key) == 0 {
		return ErrNoKey
	}

	doc := signedManifest{TrustManifest: s.manifest}
	body, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("trustsvc: marshal manifest: %w", err)
	}
	doc.Signature = s.computeMAC(body)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("trustsvc: marshal signed manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("trustsvc: mkdir: %w", err)
	}
	return os.WriteFile(s.path, out, 0o600)
}

// Update records scriptPath's current on-disk digest into the manifest
// under name, ready for Save. This is the effect of `cupcake trust
// update`.
func (s *Store) Update(name, scriptPath string) error {
	digest, err := DigestFile(scriptPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest.Entries == nil {
		s.manifest.Entries = make(map[string]types.TrustEntry)
	}
	s.manifest.Entries[name] = types.TrustEntry{
		Path:      scriptPath,
		Digest:    digest,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// Verify checks that name is present in the manifest and that
// scriptPath's current on-disk digest still matches the recorded one.
// A mismatch means the script was edited since it was trusted, and the
// dispatcher must refuse to run it.
func (s *Store) Verify(name, scriptPath string) error {
	s.mu.RLock()
	entry, ok := s.manifest.Entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q has no manifest entry", ErrNotTrusted, name)
	}

	digest, err := DigestFile(scriptPath)
	if err != nil {
		return err
	}
	if digest != entry.Digest {
		return fmt.Errorf("%w: %q digest drift (trusted %s, found %s)", ErrNotTrusted, name, entry.Digest, digest)
	}
	return nil
}

// DigestFile computes the SHA-256 digest of a file's contents, hex
// encoded. Used both to record trust and to re-verify it.
func DigestFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("trustsvc: read script %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
