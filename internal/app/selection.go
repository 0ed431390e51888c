package app

import (
	"math"
	"math/rand"
	"sync"

	"echoes-history-service/internal/domain"
)

const (
	// MinQuizQuestions is the fewest questions an attempt draws when the bank allows it.
	MinQuizQuestions = 5
	// MaxQuizQuestions caps the questions drawn for one attempt.
	MaxQuizQuestions = 10
)

// RandomSource yields uniform values in [0, 1).
type RandomSource func() float64

// SeededSource returns a reproducible RandomSource that is safe to share
// between goroutines.
func SeededSource(seed int64) RandomSource {
	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(seed))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rnd.Float64()
	}
}

// Shuffle returns a Fisher-Yates permutation of items, leaving items untouched.
// A nil rng uses the global math/rand source.
func Shuffle[T any](items []T, rng RandomSource) []T {
	if rng == nil {
		rng = rand.Float64
	}
	out := make([]T, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		j := int(math.Floor(rng() * float64(i+1)))
		if j > i {
			j = i
		}
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// PickQuestions draws an attempt from bank: desired clamped to
// [MinQuizQuestions, MaxQuizQuestions] and then to the bank size.
func PickQuestions(bank []domain.QuizQuestion, desired int, rng RandomSource) []domain.QuizQuestion {
	if len(bank) == 0 {
		return []domain.QuizQuestion{}
	}
	n := desired
	if n < MinQuizQuestions {
		n = MinQuizQuestions
	}
	if n > MaxQuizQuestions {
		n = MaxQuizQuestions
	}
	if n > len(bank) {
		n = len(bank)
	}
	return Shuffle(bank, rng)[:n]
}
