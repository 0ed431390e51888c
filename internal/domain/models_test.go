package domain

import (
	"errors"
	"testing"
	"time"
)

func TestContentBlockValidate(t *testing.T) {
	cases := []struct {
		name    string
		block   ContentBlock
		wantErr bool
	}{
		{"paragraph", ContentBlock{Kind: BlockParagraph, Text: "Năm 938"}, false},
		{"empty paragraph", ContentBlock{Kind: BlockParagraph}, true},
		{"heading", ContentBlock{Kind: BlockHeading, Text: "Bạch Đằng", Level: 2}, false},
		{"heading level", ContentBlock{Kind: BlockHeading, Text: "x", Level: 9}, true},
		{"quote", ContentBlock{Kind: BlockQuote, Text: "Nam quốc sơn hà", Attribution: "Lý Thường Kiệt"}, false},
		{"image", ContentBlock{Kind: BlockImage, Media: &MediaRef{URL: "/img/a.jpg"}}, false},
		{"image without media", ContentBlock{Kind: BlockImage}, true},
		{"video", ContentBlock{Kind: BlockVideo, Media: &MediaRef{URL: "/v.mp4"}}, false},
	}
	for _, tc := range cases {
		err := tc.block.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: wantErr=%v, got %v", tc.name, tc.wantErr, err)
		}
	}

	err := ContentBlock{Kind: "carousel"}.Validate()
	if !errors.Is(err, ErrUnknownBlockKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestContentBlockIsMedia(t *testing.T) {
	if !(ContentBlock{Kind: BlockImage}).IsMedia() || !(ContentBlock{Kind: BlockVideo}).IsMedia() {
		t.Fatalf("expected image and video to be media")
	}
	if (ContentBlock{Kind: BlockQuote}).IsMedia() {
		t.Fatalf("quote is not media")
	}
}

func TestProgressHelpers(t *testing.T) {
	p := HistoryProgress{}
	if p.QuizUnlocked() {
		t.Fatalf("expected locked quiz without completion")
	}
	if p.NextAttemptNumber() != 1 {
		t.Fatalf("expected first attempt number 1, got %d", p.NextAttemptNumber())
	}
	now := time.Now()
	p.CompletedAt = &now
	p.Attempts = append(p.Attempts, QuizAttemptSummary{AttemptNumber: 1})
	if !p.QuizUnlocked() || p.NextAttemptNumber() != 2 {
		t.Fatalf("unexpected helpers: unlocked=%v next=%d", p.QuizUnlocked(), p.NextAttemptNumber())
	}
}

func TestPersistedQuizStateExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := PersistedQuizState{}
	if s.Expired(now) {
		t.Fatalf("state without expiry never expires")
	}
	exp := now.Add(time.Minute)
	s.ExpiresAt = &exp
	if s.Expired(now) {
		t.Fatalf("state should not be expired yet")
	}
	if !s.Expired(exp) {
		t.Fatalf("state should be expired at its expiry")
	}
}
