package securestore

import (
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"
)

// Secret holds a value securely in memory.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value into an encrypted enclave. value is wiped.
func NewSecret(value []byte) *Secret {
	if len(value) == 0 {
		return &Secret{}
	}
	return &Secret{enclave: memguard.NewEnclave(value)}
}

// NewSecretFromHex decodes a hex string and seals the result.
func NewSecretFromHex(value string) (*Secret, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex secret: %w", err)
	}
	return NewSecret(raw), nil
}

// IsSet reports whether the secret holds a value.
func (s *Secret) IsSet() bool {
	return s != nil && s.enclave != nil
}

// Size returns the length of the sealed value.
func (s *Secret) Size() int {
	if !s.IsSet() {
		return 0
	}
	return s.enclave.Size()
}

// Access securely calls a function with the plaintext value of the secret.
// The provided byte slice is only valid for the duration of the function call.
func (s *Secret) Access(f func([]byte) error) error {
	if !s.IsSet() {
		return f(nil)
	}

	b, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open secret: %w", err)
	}
	defer b.Destroy()

	return f(b.Bytes())
}

// Copy returns a plain copy of the secret. The caller owns the copy.
func (s *Secret) Copy() ([]byte, error) {
	var out []byte
	err := s.Access(func(b []byte) error {
		out = make([]byte, len(b))
		copy(out, b)
		return nil
	})
	return out, err
}

// Destroy drops the reference to the sealed value.
func (s *Secret) Destroy() {
	if s != nil {
		s.enclave = nil
	}
}
