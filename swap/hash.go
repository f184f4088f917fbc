package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Hash is the 32-byte digest used for order hashes, hashlocks and escrow ids.
type Hash = common.Hash

// Keccak256 is the one hash function every chain uses to verify hashlocks,
// order hashes and immutables. Mixing hash functions between chains breaks
// atomicity, so nothing in this module hashes protocol data any other way.
func Keccak256(data ...[]byte) Hash {
	return crypto.Keccak256Hash(data...)
}

func HexToHash(s string) Hash {
	return common.HexToHash(s)
}

// wordEncoder builds the flat encoding that gets hashed: every field is one
// 32-byte big-endian word, strings are replaced by their keccak256.
type wordEncoder struct {
	buf []byte
}

func newWordEncoder(words int) *wordEncoder {
	return &wordEncoder{buf: make([]byte, 0, words*32)}
}

func (e *wordEncoder) word(w [32]byte) *wordEncoder {
	e.buf = append(e.buf, w[:]...)
	return e
}

func (e *wordEncoder) uint(v uint64) *wordEncoder {
	return e.word(uint256.NewInt(v).Bytes32())
}

func (e *wordEncoder) amount(v *uint256.Int) *wordEncoder {
	if v == nil {
		return e.word([32]byte{})
	}
	return e.word(v.Bytes32())
}

func (e *wordEncoder) str(s string) *wordEncoder {
	return e.word(Keccak256([]byte(s)))
}

func (e *wordEncoder) sum() Hash {
	return Keccak256(e.buf)
}
