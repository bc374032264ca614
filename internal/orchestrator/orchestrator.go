package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/logging"
)

// #endregion

// #region orchestrator-struct

// Deps are the collaborators the control loop composes. Recorder, MusicPolicy
// and Logger are optional.
type Deps struct {
	Segments    SegmentSource
	SegmentSize int
	Classifier  Classifier
	Posture     PostureSensor
	Publishers  []Publisher
	Voice       VoiceActuator
	Music       MusicActuator
	Channel     Policy
	MusicPolicy EpsilonSetter
	Reward      RewardFunc
	Recorder    Recorder
	Intervals   Intervals
	Logger      *zap.Logger
}

// Orchestrator is the control loop. All policy access happens on the
// goroutine running Run (or the caller of RunCycle).
type Orchestrator struct {
	d      Deps
	logger *zap.Logger

	intervals atomic.Pointer[Intervals]
	pending   atomic.Pointer[Tuning]

	state   State
	decided bool // a cycle has classified audio at least once
	sleep   func(ctx context.Context, d time.Duration) error
}

// #endregion

// #region constructor

// New validates deps and returns a loop in the Idle state.
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Segments == nil:
		return nil, errors.New("orchestrator: segment source is required")
	case d.SegmentSize <= 0:
		return nil, errors.New("orchestrator: segment size must be positive")
	case d.Classifier == nil:
		return nil, errors.New("orchestrator: classifier is required")
	case d.Posture == nil:
		return nil, errors.New("orchestrator: posture sensor is required")
	case d.Voice == nil || d.Music == nil:
		return nil, errors.New("orchestrator: voice and music actuators are required")
	case d.Channel == nil:
		return nil, errors.New("orchestrator: channel policy is required")
	}
	if d.Reward == nil {
		d.Reward = FlatReward(1)
	}
	if d.Intervals == (Intervals{}) {
		d.Intervals = DefaultIntervals()
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{d: d, logger: logger, sleep: sleepCtx}
	iv := d.Intervals
	o.intervals.Store(&iv)
	return o, nil
}

// #endregion

// #region tuning

// SetIntervals replaces the loop intervals. Safe from any goroutine; takes
// effect at the next sleep.
func (o *Orchestrator) SetIntervals(iv Intervals) {
	o.intervals.Store(&iv)
}

// Intervals returns the active intervals.
func (o *Orchestrator) Intervals() Intervals {
	return *o.intervals.Load()
}

// Tune applies new intervals now and queues the exploration rates for the
// loop goroutine, which owns the policies.
func (o *Orchestrator) Tune(t Tuning) {
	o.SetIntervals(t.Intervals)
	o.pending.Store(&t)
}

func (o *Orchestrator) applyPending() {
	t := o.pending.Swap(nil)
	if t == nil {
		return
	}
	o.d.Channel.SetEpsilon(t.ChannelEpsilon)
	if o.d.MusicPolicy != nil {
		o.d.MusicPolicy.SetEpsilon(t.MusicEpsilon)
	}
	o.logger.Info("tuning applied",
		zap.Float64("channel_epsilon", t.ChannelEpsilon),
		zap.Float64("music_epsilon", t.MusicEpsilon))
}

// State returns the current mode. Not safe to call concurrently with Run.
func (o *Orchestrator) State() State { return o.state }

// nextInterval is the sleep before the next cycle.
func (o *Orchestrator) nextInterval() time.Duration {
	iv := o.Intervals()
	switch {
	case !o.decided:
		return iv.Initial
	case o.state == StateActive:
		return iv.Active
	default:
		return iv.Idle
	}
}

// #endregion

// #region run

// Run loops until ctx is cancelled. The sleep between cycles is the only
// cancellation point; a cycle in progress always completes.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("control loop started", zap.Duration("first_sleep", o.nextInterval()))
	for {
		if err := o.sleep(ctx, o.nextInterval()); err != nil {
			o.logger.Info("control loop stopped")
			return nil
		}
		// Collaborators see an uncancelled context so shutdown waits for the cycle.
		res := o.RunCycle(context.WithoutCancel(ctx))
		o.report(res)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// report is the single boundary where cycle errors are logged.
func (o *Orchestrator) report(res CycleResult) {
	fields := []zap.Field{
		zap.String("cycle", res.ID),
		zap.String("decision", string(res.Decision)),
		zap.Stringer("state", res.State),
		zap.Duration("next", res.Next),
	}
	var tio *TransientIOError
	var cf *CollaboratorFailure
	switch {
	case res.Err == nil:
		if res.Observation != nil {
			fields = append(fields, zap.String("emotion", emotionLabel(res.Observation)), zap.String("posture", string(res.Observation.Posture)))
		}
		if res.Action != "" {
			fields = append(fields, zap.String("action", res.Action), zap.String("subcategory", res.Subcategory))
		}
		o.logger.Info("cycle complete", fields...)
	case errors.Is(res.Err, ErrInsufficientData):
		o.logger.Debug("cycle skipped", append(fields, zap.Error(res.Err))...)
		return
	case errors.As(res.Err, &tio), errors.As(res.Err, &cf):
		o.logger.Warn("cycle failed", append(fields, zap.Error(res.Err))...)
	default:
		o.logger.Error("cycle failed", append(fields, zap.Error(res.Err))...)
	}

	if o.d.Recorder != nil {
		if err := o.d.Recorder.Record(res.Entry()); err != nil {
			o.logger.Warn("journal write failed", zap.Error(&TransientIOError{Op: "record cycle", Err: err}))
		}
	}
}

func emotionLabel(obs *emotion.Observation) string {
	if obs.Emotion == nil {
		return "<none>"
	}
	return *obs.Emotion
}

// #endregion

// #region run-cycle

// RunCycle performs one snapshot, classify, publish, decide and learn pass.
// Errors are returned in the result, never panicked or swallowed.
func (o *Orchestrator) RunCycle(ctx context.Context) (res CycleResult) {
	o.applyPending()
	res = CycleResult{ID: logging.NewCycleID()}
	defer func() {
		res.State = o.state
		res.Next = o.nextInterval()
	}()

	segment := o.d.Segments.Snapshot()
	if len(segment) < o.d.SegmentSize {
		res.Decision = logging.DecisionSkip
		res.Err = fmt.Errorf("%w: have %d of %d samples", ErrInsufficientData, len(segment), o.d.SegmentSize)
		return res
	}

	pred, classifyErr := o.d.Classifier.Predict(ctx, segment)
	if classifyErr != nil {
		pred = emotion.Prediction{}
	}
	posture, err := o.d.Posture.Posture(ctx)
	if err != nil {
		return o.fail(res, errors.Join(
			classifierFailure(classifyErr),
			&CollaboratorFailure{Collaborator: "posture sensor", Err: err},
		))
	}

	obs := emotion.NewObservation(pred, posture)
	if classifyErr != nil {
		// Observers still see the cycle, unlabeled; nothing is learned from it.
		res.Observation = &obs
		o.publish(obs)
		return o.fail(res, classifierFailure(classifyErr))
	}
	res.Observation = &obs
	o.publish(obs)
	o.decided = true

	if pred.Label == nil || *pred.Label == emotion.Silence {
		o.state = StateIdle
		res.Decision = logging.DecisionIdle
		return res
	}
	label := *pred.Label

	action := o.d.Channel.ChooseAction(label)
	res.Action = action
	sub, err := o.dispatch(ctx, action, label)
	if err != nil {
		return o.fail(res, err)
	}
	res.Subcategory = sub

	reward := o.d.Reward(label, action, sub)
	res.Reward = &reward
	if err := o.d.Channel.Update(label, action, reward, label); err != nil {
		return o.fail(res, fmt.Errorf("update channel policy: %w", err))
	}
	o.state = StateActive
	res.Decision = logging.DecisionAct

	var ioErrs []error
	if err := o.d.Channel.Save(ctx); err != nil {
		ioErrs = append(ioErrs, &TransientIOError{Op: "save channel policy", Err: err})
	}
	if action == ActionMusic && sub != "" {
		if err := o.d.Music.Reward(ctx, label, sub, reward); err != nil {
			ioErrs = append(ioErrs, &TransientIOError{Op: "reward music policy", Err: err})
		}
	}
	if len(ioErrs) > 0 {
		res.Err = errors.Join(ioErrs...)
	}
	return res
}

// dispatch runs the chosen channel's actuator.
func (o *Orchestrator) dispatch(ctx context.Context, action, label string) (string, error) {
	switch action {
	case ActionVoice:
		if err := o.d.Voice.Soothe(ctx, label); err != nil {
			return "", &CollaboratorFailure{Collaborator: "voice actuator", Err: err}
		}
		return "", nil
	case ActionMusic:
		sub, err := o.d.Music.Play(ctx, label)
		if err != nil {
			return "", &CollaboratorFailure{Collaborator: "music actuator", Err: err}
		}
		return sub, nil
	default:
		return "", fmt.Errorf("unknown channel %q", action)
	}
}

// publish hands the observation to every publisher. Delivery is best-effort.
func (o *Orchestrator) publish(obs emotion.Observation) {
	for _, p := range o.d.Publishers {
		if err := p.Publish(obs); err != nil {
			o.logger.Warn("publish failed", zap.Error(&TransientIOError{Op: "publish observation", Err: err}))
		}
	}
}

func classifierFailure(err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorFailure{Collaborator: "classifier", Err: err}
}

func (o *Orchestrator) fail(res CycleResult, err error) CycleResult {
	res.Decision = logging.DecisionError
	res.Err = err
	return res
}

// #endregion
