package stream

import (
	"context"
	"time"
)

// TextSource supplies the current live narration text.
type TextSource interface {
	Text() string
}

// WatchText calls emit with the current text, then with every change
// observed by polling src at interval. Consecutive duplicates are not
// emitted. It returns when ctx is done or emit fails.
func WatchText(ctx context.Context, src TextSource, interval time.Duration, emit func(string) error) error {
	if interval <= 0 {
		interval = TextPollInterval
	}

	last := src.Text()
	if err := emit(last); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			text := src.Text()
			if text == last {
				continue
			}
			last = text
			if err := emit(text); err != nil {
				return err
			}
		}
	}
}
