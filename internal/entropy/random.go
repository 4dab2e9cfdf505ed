// Package entropy provides the random stream behind every stochastic game
// outcome. Streams are seeded and count their draws, so a saved game can be
// resumed with exactly the rolls it would have seen had it never stopped.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// Seeded is a deterministic Source.
type Seeded struct {
	seed  int64
	draws uint64
	r     *mrand.Rand
}

// NewSeeded creates a stream for seed and fast-forwards it past skip draws.
func NewSeeded(seed int64, skip uint64) *Seeded {
	s := &Seeded{seed: seed, r: mrand.New(mrand.NewSource(seed))}
	for s.draws < skip {
		s.Float64()
	}
	return s
}

// Float64 returns the next value in the stream.
func (s *Seeded) Float64() float64 {
	s.draws++
	return s.r.Float64()
}

// Seed returns the seed the stream was created with.
func (s *Seeded) Seed() int64 { return s.seed }

// Draws returns how many values have been consumed.
func (s *Seeded) Draws() uint64 { return s.draws }

// Scripted replays a fixed sequence of rolls, cycling when exhausted.
// Useful for reproducing a specific combat or covert outcome.
type Scripted struct {
	Rolls []float64
	next  int
}

// Float64 returns the next scripted roll.
func (s *Scripted) Float64() float64 {
	if len(s.Rolls) == 0 {
		return 0
	}
	v := s.Rolls[s.next%len(s.Rolls)]
	s.next++
	return v
}

// Used reports how many rolls have been taken.
func (s *Scripted) Used() int { return s.next }

// Intn maps a draw onto [0, n).
func Intn(src Source, n int) int {
	if n <= 0 {
		return 0
	}
	v := int(src.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

// Between maps a draw onto [lo, hi).
func Between(src Source, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}

// RandomSeed picks a seed from crypto/rand for games started without one.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
