package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer provides memory-safe storage for sensitive data.
// It wraps memguard.Enclave to encrypt secrets at rest in memory
// and protect them from swapping via mlock.
//
// The zero length buffer is valid and reports Len() == 0; memguard does not
// create enclaves for empty input.
type SecureBuffer struct {
	enclave *memguard.Enclave
	size    int
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy() calls and prevents use after destroy
	destroyed bool
}

// NewSecureBuffer creates a protected buffer from secret bytes.
// memguard wipes data after copying it into the enclave.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	size := len(data)
	if size == 0 {
		return &SecureBuffer{}, nil
	}

	return &SecureBuffer{
		enclave: memguard.NewEnclave(data),
		size:    size,
	}, nil
}

// FromString protects a secret that arrived as a string (flags, keyring).
// The caller's string is immutable and cannot be wiped; only the copy is protected.
func FromString(s string) *SecureBuffer {
	buf, _ := NewSecureBuffer([]byte(s))
	return buf
}

// Len returns the length of the protected data without decrypting it.
// A nil or destroyed buffer has length zero.
func (s *SecureBuffer) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return 0
	}
	return s.size
}

// Open decrypts and returns the protected data in a locked buffer.
// The caller MUST call Destroy() on the returned LockedBuffer when done
// to securely wipe the plaintext from memory.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}

	return s.enclave.Open()
}

// Reveal returns a plaintext copy for APIs that only accept strings.
// The locked buffer used for decryption is destroyed before returning.
func (s *SecureBuffer) Reveal() (string, error) {
	if s == nil {
		return "", nil
	}
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()

	return string(locked.Bytes()), nil
}

// String never reveals the protected value.
func (s *SecureBuffer) String() string {
	return "[REDACTED]"
}

// GoString never reveals the protected value for %#v formatting.
func (s *SecureBuffer) GoString() string {
	return "[REDACTED]"
}

// Destroy marks this SecureBuffer as destroyed and prevents further use.
// Calling it more than once is safe. After Destroy, Open returns an empty buffer.
func (s *SecureBuffer) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	s.enclave = nil
	s.size = 0
	s.destroyed = true
}
