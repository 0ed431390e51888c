package app

import "math"

// Grade is the outcome of a finished attempt.
type Grade struct {
	Score  int  `json:"score"` // 0-100
	Stars  int  `json:"stars"`
	Passed bool `json:"passed"`
}

// CalculateStars maps a percentage score to stars. First attempts earn the
// 3 and 6 star tiers; retries only earn stars from 90 upwards.
func CalculateStars(score, attemptNumber int) int {
	if attemptNumber <= 1 {
		switch {
		case score >= 100:
			return 12
		case score >= 90:
			return 8
		case score >= 80:
			return 6
		case score >= 70:
			return 3
		default:
			return 0
		}
	}
	switch {
	case score >= 100:
		return 12
	case score >= 90:
		return 8
	default:
		return 0
	}
}

// GradeQuiz scores correct out of total for the given attempt number.
func GradeQuiz(correct, total, attemptNumber int) Grade {
	safeTotal := total
	if safeTotal < 1 {
		safeTotal = 1
	}
	score := int(math.Round(float64(correct) / float64(safeTotal) * 100))
	threshold := 90
	if attemptNumber == 1 {
		threshold = 70
	}
	return Grade{
		Score:  score,
		Stars:  CalculateStars(score, attemptNumber),
		Passed: score >= threshold,
	}
}
