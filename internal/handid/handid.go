// Package handid generates and validates hand identifiers: UUIDv7 values
// rendered as 26-character Crockford base32 strings, so IDs sort by creation
// time and are safe to use as database keys.
//
// The settlement service itself only validates IDs at its API boundary; hands
// are minted upstream by the game engines. New and Generator exist for those
// callers, for the hand-id CLI subcommand, and for tests that need real IDs.
package handid

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// RandSource supplies the random tail of an ID. Inject a deterministic
// source in tests; production uses crypto/rand.
type RandSource interface {
	Intn(n int) int
}

// Generator produces hand IDs with configurable randomness.
type Generator struct {
	randSource RandSource
}

// NewGenerator creates a generator. A nil RandSource means crypto/rand.
func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// New creates a hand ID using crypto/rand.
func New() string {
	return NewGenerator(nil).New()
}

// New creates a hand ID using the generator's RandSource.
func (g *Generator) New() string {
	return encode(g.uuidv7())
}

// uuidv7 builds a 128-bit UUIDv7: 48-bit millisecond timestamp, then random
// bits with the version and variant fields set.
func (g *Generator) uuidv7() [16]byte {
	var u [16]byte

	now := time.Now().UnixMilli()
	u[0] = byte(now >> 40)
	u[1] = byte(now >> 32)
	u[2] = byte(now >> 24)
	u[3] = byte(now >> 16)
	u[4] = byte(now >> 8)
	u[5] = byte(now)

	if g.randSource != nil {
		for i := 6; i < 16; i++ {
			u[i] = byte(g.randSource.Intn(256))
		}
	} else {
		if _, err := rand.Read(u[6:]); err != nil {
			panic("handid: failed to read random bytes: " + err.Error())
		}
	}

	u[6] = (u[6] & 0x0f) | 0x70 // version 7
	u[8] = (u[8] & 0x3f) | 0x80 // variant 10

	return u
}

// encode renders 128 bits as 26 base32 characters. The value is left-padded
// with two zero bits to reach 130 bits, which is why the first character is
// always in the range 0-7.
func encode(u [16]byte) string {
	var out [26]byte

	acc := uint32(0)
	bits := 2 // two leading zero bits of padding
	pos := 0
	for _, b := range u {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[pos] = alphabet[(acc>>bits)&0x1f]
			pos++
		}
	}

	return string(out[:])
}

// Validate checks that an ID is 26 characters of valid base32 with a first
// character that keeps the value within 128 bits.
func Validate(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("hand ID must be exactly 26 characters, got %d", len(id))
	}

	if id[0] > '7' {
		return fmt.Errorf("hand ID first character must be 0-7, got %c", id[0])
	}

	for i := 0; i < len(id); i++ {
		if strings.IndexByte(alphabet, id[i]) < 0 {
			return fmt.Errorf("invalid character %c at position %d", id[i], i)
		}
	}

	return nil
}
