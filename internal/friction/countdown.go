package friction

import (
	"context"
	"time"
)

// DefaultTickInterval is the countdown resolution.
const DefaultTickInterval = time.Second

// Countdown ticks s every interval until the session leaves the depleting
// stage or ctx is cancelled. It blocks; the ticker is always stopped on return.
func Countdown(ctx context.Context, s *Session, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stage, err := s.Tick()
			if err != nil || stage != StageDepleting {
				return
			}
		}
	}
}

// startCountdown runs Countdown in the background and registers its stop
// function with the session so that leaving the stage or closing the
// session clears the timer.
func startCountdown(s *Session, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.setCountdown(cancel)
	go Countdown(ctx, s, interval)
}
