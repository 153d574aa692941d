package selector

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"strconv"
)

// NewSource returns a deterministic random source for the given seed string.
// Two sources built from the same seed yield the same sequence.
func NewSource(seed string) Rand {
	sum := sha256.Sum256([]byte(seed))
	r := rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(sum[0:8]),
		binary.BigEndian.Uint64(sum[8:16]),
	))
	return r.Float64
}

// DeriveSeed builds the seed of a party spin from its room code and spin counter.
func DeriveSeed(roomCode string, counter int64) string {
	return roomCode + ":" + strconv.FormatInt(counter, 10)
}
