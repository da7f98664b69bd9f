package workload

import (
	"fmt"
	"math"
	mrand "math/rand"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// KeyDistribution defines how keys are accessed
type KeyDistribution string

const (
	DistUniform    KeyDistribution = "uniform"    // All keys equally likely
	DistZipfian    KeyDistribution = "zipfian"    // A few hot keys
	DistSequential KeyDistribution = "sequential" // Sequential access
	DistLatest     KeyDistribution = "latest"     // Recent keys
)

// KeyGenerator draws key names from a fixed key space. It is not safe for
// concurrent use; give each worker its own.
type KeyGenerator struct {
	numKeys      int
	keySize      int
	distribution KeyDistribution
	rng          *mrand.Rand

	zipf *mrand.Zipf

	seqCounter *atomic.Int64
}

func NewKeyGenerator(numKeys, keySize int, distribution KeyDistribution, seed int64) *KeyGenerator {
	if numKeys <= 0 {
		numKeys = 1
	}
	rng := mrand.New(mrand.NewSource(seed))

	kg := &KeyGenerator{
		numKeys:      numKeys,
		keySize:      keySize,
		distribution: distribution,
		rng:          rng,
		seqCounter:   new(atomic.Int64),
	}
	if distribution == DistZipfian {
		kg.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(numKeys-1))
	}
	return kg
}

func (kg *KeyGenerator) NextKey() string {
	var keyNum int

	switch kg.distribution {
	case DistZipfian:
		keyNum = int(kg.zipf.Uint64())

	case DistSequential:
		keyNum = int((kg.seqCounter.Add(1) - 1) % int64(kg.numKeys))

	case DistLatest:
		window := kg.numKeys / 10
		if window < 100 {
			window = 100
		}
		offset := int(math.Abs(kg.rng.NormFloat64()) * float64(window))
		keyNum = kg.numKeys - 1 - offset
		if keyNum < 0 {
			keyNum = 0
		}

	default:
		keyNum = kg.rng.Intn(kg.numKeys)
	}

	return kg.Key(keyNum)
}

// Key returns the name of the n-th key of the key space.
func (kg *KeyGenerator) Key(n int) string {
	// Format: user<padded-number>, e.g. user0000012345
	key := fmt.Sprintf("user%010d", n)
	if kg.keySize <= 0 || len(key) == kg.keySize {
		return key
	}
	if len(key) > kg.keySize {
		return key[:kg.keySize]
	}
	return key + strings.Repeat("x", kg.keySize-len(key))
}

// Value returns a printable value of size bytes.
func (kg *KeyGenerator) Value(size int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, size)
	for i := range b {
		b[i] = alphabet[kg.rng.Intn(len(alphabet))]
	}
	return string(b)
}

func ParseDistribution(s string) (KeyDistribution, error) {
	switch d := KeyDistribution(s); d {
	case DistUniform, DistZipfian, DistSequential, DistLatest:
		return d, nil
	}
	return "", errors.Errorf("unknown key distribution %q", s)
}
