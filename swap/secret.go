package swap

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Secret is the 32-byte preimage of a hashlock.
type Secret [32]byte

func NewSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to read random secret: %w", err)
	}
	return s, nil
}

func ParseSecret(s string) (Secret, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Secret{}, fmt.Errorf("invalid secret: %w", err)
	}
	if len(b) != len(Secret{}) {
		return Secret{}, fmt.Errorf("invalid secret: want 32 bytes, got %d", len(b))
	}
	var out Secret
	copy(out[:], b)
	return out, nil
}

// HashSecret returns the hashlock for secret.
func HashSecret(secret Secret) Hash {
	return Keccak256(secret[:])
}

func (s Secret) Hashlock() Hash {
	return HashSecret(s)
}

func (s Secret) String() string {
	return hexutil.Encode(s[:])
}
