// Package sequencer drives one respondent session through a multi-step form:
// it filters the visible steps, validates answers before moving forward,
// auto-advances single-choice steps and hands the final answers to a submit callback.
//
// The cursor is a position in the visible sequence, not a step id. An answer
// that changes visibility can therefore move the respondent onto a different
// step without explicit navigation.
package sequencer

import (
	"context"
	"sync"
	"time"

	"openflow/internal/model"

	"github.com/google/uuid"
)

// DefaultAutoAdvanceDelay leaves the selected state on screen before moving on.
const DefaultAutoAdvanceDelay = 400 * time.Millisecond

// State is the lifecycle state of a session
type State int

const (
	StateActive State = iota
	StateSubmitted
)

func (s State) String() string {
	if s == StateSubmitted {
		return "submitted"
	}
	return "active"
}

// Direction of the most recent cursor move
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "back"
)

// SubmitFunc receives the assembled answers once the last step passes.
type SubmitFunc func(ctx context.Context, answers Answers) error

// Tracker receives funnel events of the session
type Tracker interface {
	Track(event model.AnalyticsEvent)
}

// TrackerFunc adapts a function to Tracker
type TrackerFunc func(event model.AnalyticsEvent)

func (f TrackerFunc) Track(event model.AnalyticsEvent) { f(event) }

// Timer is a pending scheduled call
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Sequencer
type Option func(*Sequencer)

func WithSubmit(fn SubmitFunc) Option {
	return func(s *Sequencer) { s.submit = fn }
}

func WithTracker(t Tracker) Option {
	return func(s *Sequencer) { s.tracker = t }
}

func WithScheduler(sch Scheduler) Option {
	return func(s *Sequencer) { s.scheduler = sch }
}

func WithAutoAdvanceDelay(d time.Duration) Option {
	return func(s *Sequencer) { s.delay = d }
}

func WithSessionID(id string) Option {
	return func(s *Sequencer) { s.sessionID = id }
}

func WithFormID(id string) Option {
	return func(s *Sequencer) { s.formID = id }
}

// Sequencer is the state of one fill-out session. It is safe for concurrent
// use; the auto-advance timer fires on its own goroutine.
type Sequencer struct {
	mu sync.Mutex

	steps     []model.Step
	endScreen model.EndScreen

	formID    string
	sessionID string
	submit    SubmitFunc
	tracker   Tracker
	scheduler Scheduler
	delay     time.Duration

	answers    Answers
	consent    bool
	cursor     int
	direction  Direction
	state      State
	errMsg     string
	result     Answers
	started    bool
	dropped    bool
	submitting bool
	// abandoned during an in-flight submit; dropped only if the submit fails
	abandoned bool

	timer      Timer
	generation uint64

	pending []model.AnalyticsEvent
}

// New starts a session over the form runtime config. It emits the view event
// and the step event for the first visible step.
func New(cfg model.RuntimeConfig, opts ...Option) *Sequencer {
	s := &Sequencer{
		steps:     cfg.Steps,
		endScreen: cfg.EndScreen,
		scheduler: wallClock{},
		delay:     DefaultAutoAdvanceDelay,
		answers:   make(Answers),
		direction: Forward,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}

	s.mu.Lock()
	s.emit(model.EventView, nil)
	s.emitStep()
	s.unlockAndFlush()

	return s
}

// SessionID identifies this session in tracked events.
func (s *Sequencer) SessionID() string {
	return s.sessionID
}

// Current returns the step under the cursor.
func (s *Sequencer) Current() (model.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	visible := s.visible()
	if len(visible) == 0 {
		return model.Step{}, false
	}
	return visible[s.position(visible)], true
}

// Cursor is the position of the current step in the visible sequence.
func (s *Sequencer) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position(s.visible())
}

// Visible returns the currently visible steps.
func (s *Sequencer) Visible() []model.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible()
}

// Answers returns a copy of the answers collected so far.
func (s *Sequencer) Answers() Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Error is the validation or submission message to show inline, or "".
func (s *Sequencer) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Sequencer) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

// Progress is the completed share of the visible sequence in (0, 1].
func (s *Sequencer) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitted {
		return 1
	}
	visible := s.visible()
	if len(visible) == 0 {
		return 0
	}
	return float64(s.position(visible)+1) / float64(len(visible))
}

// IsLast reports whether Next would submit rather than move forward.
func (s *Sequencer) IsLast() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	visible := s.visible()
	return len(visible) > 0 && s.position(visible) == len(visible)-1
}

// Result returns the submitted answers once the session is terminal.
func (s *Sequencer) Result() (Answers, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubmitted {
		return nil, false
	}
	return s.result.Clone(), true
}

// SetAnswer stores the answer of the current step and clears the error. For
// single-choice steps a non-nil answer schedules an automatic Next; any
// pending one is cancelled first.
func (s *Sequencer) SetAnswer(value interface{}) {
	s.mu.Lock()
	if s.state != StateActive || s.submitting {
		s.mu.Unlock()
		return
	}

	visible := s.visible()
	if len(visible) == 0 {
		s.mu.Unlock()
		return
	}
	step := visible[s.position(visible)]

	s.answers[step.ID] = value
	s.errMsg = ""
	if !s.started {
		s.started = true
		s.emit(model.EventStart, nil)
	}

	s.cancelTimer()
	if autoAdvances(step.Type) && value != nil {
		s.generation++
		gen := s.generation
		s.timer = s.scheduler.AfterFunc(s.delay, func() { s.autoAdvance(gen) })
	}

	s.unlockAndFlush()
}

// SetConsent sets the end-screen consent flag of the session.
func (s *Sequencer) SetConsent(agreed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.consent = agreed
	s.errMsg = ""
}

// Next validates the current step and moves forward, or submits on the last
// visible step. It reports whether the session moved.
func (s *Sequencer) Next(ctx context.Context) bool {
	s.mu.Lock()
	return s.advance(ctx)
}

// Prev moves back one step without validating.
func (s *Sequencer) Prev() bool {
	s.mu.Lock()
	if s.state != StateActive || s.submitting {
		s.mu.Unlock()
		return false
	}
	s.cancelTimer()

	visible := s.visible()
	pos := s.position(visible)
	if pos == 0 {
		s.mu.Unlock()
		return false
	}
	s.cursor = pos - 1
	s.direction = Backward
	s.errMsg = ""
	s.emitStep()
	s.unlockAndFlush()
	return true
}

// Abandon records a drop-off while the session is still active and stops any
// pending auto-advance. During a submit the drop is deferred until the submit
// fails, so a completed session never also counts as dropped.
func (s *Sequencer) Abandon() {
	s.mu.Lock()
	s.cancelTimer()
	if s.submitting {
		s.abandoned = true
	} else {
		s.emitDrop()
	}
	s.unlockAndFlush()
}

// emitDrop expects s.mu held.
func (s *Sequencer) emitDrop() {
	if s.state != StateActive || s.dropped {
		return
	}
	s.dropped = true
	visible := s.visible()
	if len(visible) > 0 {
		idx := s.position(visible)
		s.emit(model.EventDrop, &stepRef{index: idx, id: visible[idx].ID})
	} else {
		s.emit(model.EventDrop, nil)
	}
}

func (s *Sequencer) autoAdvance(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.advance(context.Background())
}

// advance expects s.mu held and releases it.
func (s *Sequencer) advance(ctx context.Context) bool {
	if s.state != StateActive || s.submitting {
		s.mu.Unlock()
		return false
	}
	s.cancelTimer()

	visible := s.visible()
	if len(visible) == 0 {
		s.errMsg = MsgNoSteps
		s.mu.Unlock()
		return false
	}

	pos := s.position(visible)
	step := visible[pos]
	last := pos == len(visible)-1

	if verr := checkStep(step, s.answers); verr != nil {
		s.errMsg = verr.Message
		s.mu.Unlock()
		return false
	}
	if last && s.endScreen.ConsentEnabled && !s.consent {
		s.errMsg = MsgFinalConsent
		s.mu.Unlock()
		return false
	}

	if !last {
		s.cursor = pos + 1
		s.direction = Forward
		s.errMsg = ""
		s.emitStep()
		s.unlockAndFlush()
		return true
	}

	answers := s.answers.Clone()
	if s.endScreen.ConsentEnabled {
		answers[ConsentKey] = true
	}
	s.submitting = true
	submit := s.submit
	s.mu.Unlock()

	var err error
	if submit != nil {
		err = submit(ctx, answers.Clone())
	}

	s.mu.Lock()
	s.submitting = false
	abandoned := s.abandoned
	s.abandoned = false
	if err != nil {
		s.errMsg = err.Error()
		if abandoned {
			s.emitDrop()
		}
		s.unlockAndFlush()
		return false
	}
	s.state = StateSubmitted
	s.result = answers
	s.errMsg = ""
	s.emit(model.EventComplete, nil)
	s.unlockAndFlush()
	return true
}

func (s *Sequencer) visible() []model.Step {
	return VisibleSteps(s.steps, s.answers)
}

// position clamps the cursor into the visible sequence.
func (s *Sequencer) position(visible []model.Step) int {
	if s.cursor >= len(visible) {
		if len(visible) == 0 {
			return 0
		}
		return len(visible) - 1
	}
	return s.cursor
}

func (s *Sequencer) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

type stepRef struct {
	index int
	id    string
}

func (s *Sequencer) emitStep() {
	visible := s.visible()
	if len(visible) == 0 {
		return
	}
	pos := s.position(visible)
	s.emit(model.EventStep, &stepRef{index: pos, id: visible[pos].ID})
}

func (s *Sequencer) emit(kind model.EventKind, ref *stepRef) {
	if s.tracker == nil {
		return
	}
	ev := model.AnalyticsEvent{FormID: s.formID, Event: kind, SessionID: s.sessionID}
	if ref != nil {
		idx := ref.index
		ev.StepIndex = &idx
		ev.StepID = ref.id
	}
	s.pending = append(s.pending, ev)
}

// unlockAndFlush releases s.mu and then delivers queued tracker events, so a
// tracker may call back into the Sequencer.
func (s *Sequencer) unlockAndFlush() {
	events := s.pending
	s.pending = nil
	tracker := s.tracker
	s.mu.Unlock()

	for _, ev := range events {
		tracker.Track(ev)
	}
}

func autoAdvances(t model.StepType) bool {
	switch t {
	case model.StepYesNo, model.StepSelect, model.StepImageSelect, model.StepRating:
		return true
	}
	return false
}
