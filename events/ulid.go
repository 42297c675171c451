package events

import (
	"math/rand"
	"sync"
	"time"

	ulid "github.com/oklog/ulid/v2"
)

// MonotonicULIDGenerator hands out strictly increasing ULIDs, also within
// the same millisecond.
type MonotonicULIDGenerator struct {
	sync.Mutex
	entropy  *rand.Rand
	lastMs   uint64
	lastULID ulid.ULID
}

func NewMonotonicULIDGenerator(entropy *rand.Rand) *MonotonicULIDGenerator {
	initial, err := ulid.New(ulid.Now(), entropy)
	if err != nil {
		panic(err)
	}

	return &MonotonicULIDGenerator{
		entropy:  entropy,
		lastMs:   0,
		lastULID: initial,
	}
}

func (u *MonotonicULIDGenerator) New(t time.Time) (ulid.ULID, error) {
	u.Lock()
	defer u.Unlock()

	ms := ulid.Timestamp(t)
	var err error
	if ms > u.lastMs {
		u.lastMs = ms
		u.lastULID, err = ulid.New(ms, u.entropy)
		return u.lastULID, err
	}

	// same millisecond: increment the entropy part of the last ULID so
	// ordering still holds
	incrEntropy := incrementBytes(u.lastULID.Entropy())
	var dup ulid.ULID
	dup.SetTime(u.lastMs)
	if err := dup.SetEntropy(incrEntropy); err != nil {
		return dup, err
	}
	u.lastULID = dup
	return dup, nil
}

func incrementBytes(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)

	// most significant byte first (big-endian)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] == 255 {
			out[i] = 0
			continue
		}
		out[i]++
		return out
	}
	panic("ulid entropy overflow")
}
