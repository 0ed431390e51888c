package app

import "echoes-history-service/internal/domain"

// TextBlockCount counts the readable (non-media) blocks of an event,
// including its sub-events.
func TextBlockCount(event domain.HistoryEvent) int {
	n := 0
	count := func(blocks []domain.ContentBlock) {
		for _, b := range blocks {
			if !b.IsMedia() {
				n++
			}
		}
	}
	count(event.Content)
	for _, sub := range event.SubEvents {
		count(sub.Content)
	}
	return n
}

// ReadRatio converts a count of text blocks read into a ratio in [0, 1].
// Events without text count as fully read.
func ReadRatio(event domain.HistoryEvent, blocksRead int) float64 {
	total := TextBlockCount(event)
	if total == 0 {
		return 1
	}
	return clampRatio(float64(blocksRead) / float64(total))
}
