package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/yodel/yodel-go/internal/security"
)

// Scope names the root directory a file key is relative to
type Scope string

const (
	// ScopeAudio is the user-visible downloads directory
	ScopeAudio Scope = "audio"
	// ScopeCover is the app-private cover store
	ScopeCover Scope = "cover"
)

// Ref identifies a file inside a scope root
type Ref struct {
	Scope Scope
	Path  string // slash separated, relative to the scope root
}

type keyPayload struct {
	Scope Scope  `json:"s"`
	Path  string `json:"p"`
}

// KeyCodec turns file references into signed opaque keys and back
type KeyCodec struct {
	signer *security.KeySigner
	roots  map[Scope]string
}

// NewKeyCodec creates a codec for the given scope roots
func NewKeyCodec(signer *security.KeySigner, roots map[Scope]string) *KeyCodec {
	copied := make(map[Scope]string, len(roots))
	for scope, root := range roots {
		copied[scope] = filepath.Clean(root)
	}
	return &KeyCodec{signer: signer, roots: copied}
}

// Encode returns the key for ref. The path must stay inside its scope root.
func (c *KeyCodec) Encode(ref Ref) (string, error) {
	if _, err := c.locate(ref); err != nil {
		return "", err
	}
	payload, err := json.Marshal(keyPayload{Scope: ref.Scope, Path: filepath.ToSlash(ref.Path)})
	if err != nil {
		return "", fmt.Errorf("failed to encode file key: %w", err)
	}
	return c.signer.Sign(payload), nil
}

// EncodePath returns the key for an absolute path inside a scope root
func (c *KeyCodec) EncodePath(scope Scope, path string) (string, error) {
	root, ok := c.roots[scope]
	if !ok {
		return "", fmt.Errorf("unknown scope %q", scope)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("path %s is outside %s: %w", path, root, err)
	}
	return c.Encode(Ref{Scope: scope, Path: filepath.ToSlash(rel)})
}

// Decode returns the reference behind key. Empty, malformed, forged and
// out-of-scope keys all report false.
func (c *KeyCodec) Decode(key string) (Ref, bool) {
	if key == "" {
		return Ref{}, false
	}
	raw, ok := c.signer.Verify(key)
	if !ok {
		return Ref{}, false
	}
	var payload keyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Ref{}, false
	}
	ref := Ref{Scope: payload.Scope, Path: payload.Path}
	if _, err := c.locate(ref); err != nil {
		return Ref{}, false
	}
	return ref, true
}

// Resolve returns the absolute path behind key
func (c *KeyCodec) Resolve(key string) (string, bool) {
	ref, ok := c.Decode(key)
	if !ok {
		return "", false
	}
	path, err := c.locate(ref)
	if err != nil {
		return "", false
	}
	return path, true
}

func (c *KeyCodec) locate(ref Ref) (string, error) {
	root, ok := c.roots[ref.Scope]
	if !ok {
		return "", fmt.Errorf("unknown scope %q", ref.Scope)
	}
	return security.ValidateFilePath(root, filepath.FromSlash(ref.Path))
}
