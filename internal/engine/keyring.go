package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeySize is the length of export master keys in bytes.
const KeySize = 32

// ErrNoKey is returned when encryption is requested but no key is provisioned.
var ErrNoKey = errors.New("no export encryption key provisioned")

// KeySource yields master key material. ok is false when the source has no key.
type KeySource interface {
	LoadKey() (key []byte, ok bool, err error)
	String() string
}

// FileKeySource reads a key from a file containing hex, base64 or 32 raw bytes.
type FileKeySource string

func (f FileKeySource) LoadKey() ([]byte, bool, error) {
	if f == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading key file: %w", err)
	}
	key, err := decodeKey(data)
	if err != nil {
		return nil, false, fmt.Errorf("key file %s: %w", string(f), err)
	}
	return key, true, nil
}

func (f FileKeySource) String() string { return "file " + string(f) }

// EnvKeySource reads a hex or base64 key from an environment variable.
type EnvKeySource string

func (e EnvKeySource) LoadKey() ([]byte, bool, error) {
	if e == "" {
		return nil, false, nil
	}
	v, ok := os.LookupEnv(string(e))
	if !ok || strings.TrimSpace(v) == "" {
		return nil, false, nil
	}
	key, err := decodeKey([]byte(v))
	if err != nil {
		return nil, false, fmt.Errorf("environment variable %s: %w", string(e), err)
	}
	return key, true, nil
}

func (e EnvKeySource) String() string { return "env " + string(e) }

func decodeKey(data []byte) ([]byte, error) {
	if len(data) == KeySize {
		return bytes.Clone(data), nil
	}
	s := strings.TrimSpace(string(data))
	if k, err := hex.DecodeString(s); err == nil && len(k) == KeySize {
		return k, nil
	}
	if k, err := base64.StdEncoding.DecodeString(s); err == nil && len(k) == KeySize {
		return k, nil
	}
	return nil, fmt.Errorf("key must be %d bytes, hex or base64 encoded", KeySize)
}

// Keyring resolves the export master key from its sources in order.
// There is no fallback: if no source has a key, encryption is refused.
type Keyring struct {
	sources []KeySource
}

// NewKeyring creates a keyring consulting sources in order.
func NewKeyring(sources ...KeySource) *Keyring {
	return &Keyring{sources: sources}
}

// Key returns the first key found.
func (k *Keyring) Key() ([]byte, error) {
	if k == nil {
		return nil, ErrNoKey
	}
	var tried []string
	for _, src := range k.sources {
		key, ok, err := src.LoadKey()
		if err != nil {
			return nil, err
		}
		if ok {
			return key, nil
		}
		tried = append(tried, src.String())
	}
	if len(tried) == 0 {
		return nil, ErrNoKey
	}
	return nil, fmt.Errorf("%w (checked %s)", ErrNoKey, strings.Join(tried, ", "))
}

// Fingerprint identifies the current key without revealing it.
func (k *Keyring) Fingerprint() (string, error) {
	key, err := k.Key()
	if err != nil {
		return "", err
	}
	return KeyFingerprint(key), nil
}

// KeyFingerprint returns a short, stable identifier for key.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return "sha256:" + hex.EncodeToString(sum[:8])
}
