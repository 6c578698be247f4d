package crypto

import (
	"fmt"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
)

// DecryptEnvironment decrypts every ciphertext in an owner's environment
// map into plaintext, per spec.md §4.2: secret decryption happens once at
// execution start, and a failure on any variable aborts before any block
// runs. Values without the "enc:" prefix pass through unchanged (legacy
// plaintext), matching Decrypt's own behavior.
func DecryptEnvironment(ciphertexts map[string]string, key []byte) (map[string]string, error) {
	plaintext := make(map[string]string, len(ciphertexts))
	for name, ct := range ciphertexts {
		pt, err := Decrypt(ct, key)
		if err != nil {
			return nil, fmt.Errorf("%w: variable %q: %v", flowerrors.ErrDecryptionFailed, name, err)
		}
		plaintext[name] = pt
	}
	return plaintext, nil
}

// EncryptEnvironment encrypts a plaintext environment map for storage.
func EncryptEnvironment(plaintext map[string]string, key []byte) (map[string]string, error) {
	ciphertexts := make(map[string]string, len(plaintext))
	for name, pt := range plaintext {
		ct, err := Encrypt(pt, key)
		if err != nil {
			return nil, fmt.Errorf("encrypt variable %q: %w", name, err)
		}
		ciphertexts[name] = ct
	}
	return ciphertexts, nil
}
