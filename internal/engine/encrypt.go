package engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/sio"
	"golang.org/x/crypto/hkdf"

	"github.com/BadgerOps/portable/internal/store"
)

// Encrypted parts use the DARE 2.0 stream format: 64 KiB packages, each
// sealed with a sequence-numbered nonce and a final-package flag, so
// reordering, truncation and tampering all fail authentication. The
// cipher suite is recorded per package, so decryption needs only the key.
const encryptedSuffix = ".enc"

var cipherSuites = map[store.EncryptionAlgorithm]byte{
	store.EncryptionAESGCM:   sio.AES_256_GCM,
	store.EncryptionChaCha20: sio.CHACHA20_POLY1305,
}

// ErrDecrypt is returned when an artifact fails authentication.
var ErrDecrypt = errors.New("artifact decryption failed")

// Encrypter seals artifact parts with a key from the keyring.
type Encrypter struct {
	keyring *Keyring
}

// NewEncrypter creates an Encrypter backed by keyring.
func NewEncrypter(keyring *Keyring) *Encrypter {
	return &Encrypter{keyring: keyring}
}

// EncryptParts replaces each plaintext part in dir with an encrypted
// ".enc" file and sidecar, returning the new part list in the same order.
func (e *Encrypter) EncryptParts(ctx context.Context, alg store.EncryptionAlgorithm, dir string, parts []store.ArtifactPart) ([]store.ArtifactPart, error) {
	master, err := e.keyring.Key()
	if err != nil {
		return nil, err
	}

	out := make([]store.ArtifactPart, 0, len(parts))
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src := filepath.Join(dir, p.Name)
		dst := src + encryptedSuffix
		if err := encryptFile(master, alg, src, dst); err != nil {
			return nil, fmt.Errorf("encrypting %s: %w", p.Name, err)
		}
		if err := os.Remove(src); err != nil {
			return nil, fmt.Errorf("removing plaintext %s: %w", p.Name, err)
		}
		_ = os.Remove(src + ".sha256")

		part, err := finishPart(dst)
		if err != nil {
			return nil, err
		}
		out = append(out, part)
	}
	return out, nil
}

func encryptFile(master []byte, alg store.EncryptionAlgorithm, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if err := encryptStream(master, alg, in, out); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func encryptStream(master []byte, alg store.EncryptionAlgorithm, r io.Reader, w io.Writer) error {
	suite, ok := cipherSuites[alg]
	if !ok {
		return fmt.Errorf("unsupported encryption algorithm %q", alg)
	}
	key, err := artifactKey(master)
	if err != nil {
		return err
	}

	_, err = sio.Encrypt(w, r, sio.Config{
		MinVersion:   sio.Version20,
		MaxVersion:   sio.Version20,
		CipherSuites: []byte{suite},
		Key:          key,
	})
	return err
}

// Decrypt reverses encryption of one artifact part using master.
func Decrypt(master []byte, r io.Reader, w io.Writer) error {
	key, err := artifactKey(master)
	if err != nil {
		return err
	}

	_, err = sio.Decrypt(w, r, sio.Config{
		MinVersion:   sio.Version20,
		MaxVersion:   sio.Version20,
		CipherSuites: []byte{sio.AES_256_GCM, sio.CHACHA20_POLY1305},
		Key:          key,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return nil
}

// artifactKey binds the master key to artifact encryption.
func artifactKey(master []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, master, nil, []byte("portable artifact encryption v2"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}
