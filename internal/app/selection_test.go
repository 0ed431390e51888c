package app_test

import (
	"fmt"
	"sort"
	"testing"

	"echoes-history-service/internal/app"
	"echoes-history-service/internal/domain"
)

func TestShuffleIsPermutation(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 3}
	orig := append([]int(nil), in...)

	out := app.Shuffle(in, app.SeededSource(7))

	if len(out) != len(in) {
		t.Fatalf("length changed: %d != %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != orig[i] {
			t.Fatalf("input mutated at %d", i)
		}
	}
	a := append([]int(nil), out...)
	b := append([]int(nil), in...)
	sort.Ints(a)
	sort.Ints(b)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("multiset differs: %v vs %v", a, b)
		}
	}

	same := true
	for i := range out {
		if out[i] != in[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected seeded shuffle to reorder %v", in)
	}
}

func TestShuffleUsesFloorOfRNG(t *testing.T) {
	// rng()=0 always swaps i with 0: [a b c d] -> i=3: [d b c a], i=2: [c b d a], i=1: [b c d a]
	out := app.Shuffle([]string{"a", "b", "c", "d"}, func() float64 { return 0 })
	want := []string{"b", "c", "d", "a"}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %v want %v", out, want)
		}
	}

	// rng close to 1 picks j=i, leaving the order untouched.
	out = app.Shuffle([]string{"a", "b", "c"}, func() float64 { return 0.9999 })
	if out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Fatalf("expected identity, got %v", out)
	}
}

func TestShuffleEmptyAndSingle(t *testing.T) {
	if got := app.Shuffle([]int{}, nil); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
	if got := app.Shuffle([]int{42}, nil); len(got) != 1 || got[0] != 42 {
		t.Fatalf("expected [42], got %v", got)
	}
}

func TestPickQuestionsBounds(t *testing.T) {
	cases := []struct {
		bank, desired, want int
	}{
		{0, 10, 0},
		{3, 10, 3},
		{4, 1, 4},
		{12, 5, 5},
		{12, 7, 7},
		{12, 10, 10},
		{12, 20, 10},
		{12, 1, 5},
		{7, 10, 7},
		{7, 6, 6},
		{8, 2, 5},
	}
	for _, tc := range cases {
		got := app.PickQuestions(questionBank("e1", tc.bank), tc.desired, app.SeededSource(int64(tc.bank*31+tc.desired)))
		if len(got) != tc.want {
			t.Fatalf("bank=%d desired=%d: want %d got %d", tc.bank, tc.desired, tc.want, len(got))
		}
		seen := map[string]bool{}
		for _, q := range got {
			if seen[q.ID] {
				t.Fatalf("duplicate question %s", q.ID)
			}
			seen[q.ID] = true
		}
	}
}

func TestPickQuestionsDoesNotMutateBank(t *testing.T) {
	bank := questionBank("e1", 10)
	first := bank[0].ID
	_ = app.PickQuestions(bank, 5, app.SeededSource(3))
	if bank[0].ID != first {
		t.Fatalf("bank reordered")
	}
}

func questionBank(eventID string, n int) []domain.QuizQuestion {
	bank := make([]domain.QuizQuestion, n)
	for i := range bank {
		bank[i] = domain.QuizQuestion{
			ID:          fmt.Sprintf("%s-q%d", eventID, i+1),
			EventID:     eventID,
			EraID:       "era-1",
			Prompt:      fmt.Sprintf("Question %d", i+1),
			Options:     []string{"A", "B", "C", "D"},
			AnswerIndex: i % 4,
			Explanation: fmt.Sprintf("Because %d", i+1),
		}
	}
	return bank
}
