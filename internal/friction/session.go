// Package friction runs the intervention ritual a user must complete before
// a new hall pass is written.
//
// A session moves reflection → (depleting →) challenge → confirming → granted.
// Depletion is only entered in depletion mode and always hands over to the
// typed challenge when its countdown reaches zero. Losing visibility while
// the countdown runs resets it to the full duration.
package friction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/hallpass/internal/store"
)

// Stage is a state of the friction state machine.
type Stage string

const (
	StageReflection Stage = "reflection"
	StageDepleting  Stage = "depleting"
	StageChallenge  Stage = "challenge"
	StageConfirming Stage = "confirming"
	StageGranted    Stage = "granted"
	StageDeclined   Stage = "declined"
	StageAborted    Stage = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageGranted || s == StageDeclined || s == StageAborted
}

var (
	// ErrInvalidTransition is returned when an event does not apply to the current stage.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultPhrase is shown to the user and must be typed back exactly.
const DefaultPhrase = "I choose focus"

// DefaultDepletionTicks is the forced wait in depletion mode.
const DefaultDepletionTicks = 30

// View is a read-only snapshot of a session.
type View struct {
	ID                    string     `json:"id"`
	Stage                 Stage      `json:"stage"`
	Target                string     `json:"target"`
	Mode                  store.Mode `json:"mode"`
	UnlockDurationMinutes int        `json:"unlock_duration_minutes"`
	VisitCount            int        `json:"visit_count"`
	RequiredPhrase        string     `json:"required_phrase"`
	Remaining             int        `json:"remaining"`
	Total                 int        `json:"total"`
	Resets                int        `json:"resets"`
	InputLocked           bool       `json:"input_locked"`
	Destination           string     `json:"destination,omitempty"`
	ExpiresAt             int64      `json:"expires_at,omitempty"`
}

// Session is one intervention. All methods are safe for concurrent use;
// ticks, input and visibility events are applied one at a time.
type Session struct {
	mu sync.Mutex

	id         string
	target     string
	mode       store.Mode
	minutes    int
	visitCount int
	phrase     string
	fullTicks  int

	stage       Stage
	remaining   int
	resets      int
	destination string
	expiresAt   int64
	touched     time.Time

	stopCountdown func()
	subs          map[chan View]struct{}
}

// NewSession creates a session in the reflection stage. Mode and unlock
// duration are fixed for the session's lifetime.
func NewSession(id, target string, settings store.Settings, visitCount int, phrase string, depletionTicks int) *Session {
	if phrase == "" {
		phrase = DefaultPhrase
	}
	if depletionTicks <= 0 {
		depletionTicks = DefaultDepletionTicks
	}
	return &Session{
		id:         id,
		target:     target,
		mode:       settings.Mode,
		minutes:    settings.UnlockDurationMinutes,
		visitCount: visitCount,
		phrase:     phrase,
		fullTicks:  depletionTicks,
		stage:      StageReflection,
		touched:    time.Now(),
		subs:       make(map[chan View]struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Target returns the captured original destination, possibly empty.
func (s *Session) Target() string { return s.target }

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Proceed leaves reflection: depletion mode starts the countdown, normal
// mode goes straight to the challenge.
func (s *Session) Proceed() (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageReflection {
		return s.stage, s.invalid("proceed")
	}
	if s.mode == store.ModeDepletion {
		s.stage = StageDepleting
		s.remaining = s.fullTicks
	} else {
		s.stage = StageChallenge
	}
	s.changedLocked()
	return s.stage, nil
}

// Tick advances the countdown by one. At zero the session moves to the challenge.
func (s *Session) Tick() (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageDepleting {
		return s.stage, s.invalid("tick")
	}
	s.remaining--
	if s.remaining <= 0 {
		s.remaining = 0
		s.stage = StageChallenge
		s.stopCountdownLocked()
	}
	s.changedLocked()
	return s.stage, nil
}

// VisibilityHidden records that the page was backgrounded. While the
// countdown is running it restarts from the full duration. Returns whether
// a reset happened.
func (s *Session) VisibilityHidden() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageDepleting {
		return false
	}
	s.remaining = s.fullTicks
	s.resets++
	s.changedLocked()
	return true
}

// SubmitInput compares text with the required phrase byte for byte. A match
// locks the input and moves to confirmation; anything else leaves the
// session in the challenge.
func (s *Session) SubmitInput(text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageChallenge {
		return false, s.invalid("input")
	}
	s.touched = time.Now()
	if text != s.phrase {
		return false, nil
	}
	s.stage = StageConfirming
	s.changedLocked()
	return true, nil
}

// Decline ends the session from confirmation without a pass.
func (s *Session) Decline() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageConfirming {
		return s.invalid("decline")
	}
	s.stage = StageDeclined
	s.stopCountdownLocked()
	s.changedLocked()
	return nil
}

// Abort ends the session from any non-terminal stage without a pass.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage.Terminal() {
		return s.invalid("abort")
	}
	s.stage = StageAborted
	s.stopCountdownLocked()
	s.changedLocked()
	return nil
}

// affirm runs write while holding the session, and moves to granted only
// if write succeeds. On failure the session stays in confirmation.
func (s *Session) affirm(write func(minutes int) (store.Pass, string, error)) (store.Pass, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageConfirming {
		return store.Pass{}, "", s.invalid("confirm")
	}
	pass, dest, err := write(s.minutes)
	if err != nil {
		return store.Pass{}, "", err
	}
	s.stage = StageGranted
	s.destination = dest
	s.expiresAt = pass.ExpiresAt
	s.changedLocked()
	return pass, dest, nil
}

// View returns a snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Subscribe returns a channel that receives the latest view after every
// change. Slow readers only see the most recent view. Call the returned
// function to unsubscribe.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.viewLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Close stops any running countdown. It does not change the stage.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCountdownLocked()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) setCountdown(stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCountdownLocked()
	s.stopCountdown = stop
}

func (s *Session) stopCountdownLocked() {
	if s.stopCountdown != nil {
		s.stopCountdown()
		s.stopCountdown = nil
	}
}

func (s *Session) changedLocked() {
	s.touched = time.Now()
	v := s.viewLocked()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *Session) viewLocked() View {
	v := View{
		ID:                    s.id,
		Stage:                 s.stage,
		Target:                s.target,
		Mode:                  s.mode,
		UnlockDurationMinutes: s.minutes,
		VisitCount:            s.visitCount,
		RequiredPhrase:        s.phrase,
		Resets:                s.resets,
		InputLocked:           s.stage != StageChallenge,
		Destination:           s.destination,
		ExpiresAt:             s.expiresAt,
	}
	if s.mode == store.ModeDepletion {
		v.Total = s.fullTicks
		v.Remaining = s.remaining
		if s.stage == StageReflection {
			v.Remaining = s.fullTicks
		}
	}
	return v
}

func (s *Session) invalid(event string) error {
	return fmt.Errorf("%w: %s in stage %s", ErrInvalidTransition, event, s.stage)
}
