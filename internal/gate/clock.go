package gate

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// TokenSource produces random tokens for verification challenges.
type TokenSource interface {
	Token(length int) string
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomTokenSource produces alphanumeric tokens from crypto/rand.
type RandomTokenSource struct{}

func (RandomTokenSource) Token(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand never fails on supported platforms
			panic(err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf)
}
