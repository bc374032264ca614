package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/logging"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region stubs

const segmentSize = 8

type segments struct{ n int }

func (s segments) Snapshot() []float32 { return make([]float32, s.n) }

type stubClassifier struct {
	label *string
	conf  float64
	err   error
	calls int
}

func (c *stubClassifier) Predict(_ context.Context, seg []float32) (emotion.Prediction, error) {
	c.calls++
	if c.err != nil {
		return emotion.Prediction{}, c.err
	}
	return emotion.Prediction{Label: c.label, Confidence: c.conf}, nil
}

type stubPosture struct {
	p   emotion.Posture
	err error
}

func (s stubPosture) Posture(context.Context) (emotion.Posture, error) { return s.p, s.err }

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []any
	err  error
}

func (p *recordingPublisher) Publish(payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, payload)
	return p.err
}

type stubVoice struct {
	labels []string
	err    error
}

func (v *stubVoice) Soothe(_ context.Context, label string) error {
	v.labels = append(v.labels, label)
	return v.err
}

type musicReward struct {
	label, sub string
	reward     float64
}

type stubMusic struct {
	sub       string
	err       error
	rewardErr error
	plays     []string
	rewards   []musicReward
}

func (m *stubMusic) Play(_ context.Context, label string) (string, error) {
	m.plays = append(m.plays, label)
	return m.sub, m.err
}

func (m *stubMusic) Reward(_ context.Context, label, sub string, reward float64) error {
	m.rewards = append(m.rewards, musicReward{label, sub, reward})
	return m.rewardErr
}

type failingBackend struct{ policy.MemoryBackend }

func (b *failingBackend) Save(context.Context, policy.Table) error { return errors.New("disk full") }

type recordingJournal struct {
	entries []logging.CycleEntry
}

func (j *recordingJournal) Record(e logging.CycleEntry) error {
	j.entries = append(j.entries, e)
	return nil
}

func str(s string) *string { return &s }

type fixture struct {
	classifier *stubClassifier
	publisher  *recordingPublisher
	voice      *stubVoice
	music      *stubMusic
	backend    *policy.MemoryBackend
	store      *policy.Store
	journal    *recordingJournal
	deps       Deps
}

func newFixture(t *testing.T, seed policy.Table, epsilon float64) *fixture {
	t.Helper()
	f := &fixture{
		classifier: &stubClassifier{label: str("hungry"), conf: 0.9},
		publisher:  &recordingPublisher{},
		voice:      &stubVoice{},
		music:      &stubMusic{sub: "rhythmic_rising_pitch"},
		backend:    policy.NewMemoryBackend(seed),
		journal:    &recordingJournal{},
	}
	cfg := policy.DefaultConfig()
	cfg.Epsilon = epsilon
	f.store = policy.New("channel", emotion.Categories, Actions, cfg, f.backend,
		policy.WithRand(rand.New(rand.NewPCG(1, 2))))
	f.store.Load(context.Background())

	f.deps = Deps{
		Segments:    segments{n: segmentSize},
		SegmentSize: segmentSize,
		Classifier:  f.classifier,
		Posture:     stubPosture{p: emotion.PostureSafe},
		Publishers:  []Publisher{f.publisher},
		Voice:       f.voice,
		Music:       f.music,
		Channel:     f.store,
		Recorder:    f.journal,
	}
	return f
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(f.deps)
	require.NoError(t, err)
	return o
}

func hungrySeed() policy.Table {
	seed := policy.Table{}
	seed.Set("hungry", ActionVoice, 5)
	seed.Set("hungry", ActionMusic, 1)
	return seed
}

// #endregion stubs

// #region scenario-tests

func TestRunCycle_HungryDispatchesVoiceAndPersists(t *testing.T) {
	f := newFixture(t, hungrySeed(), 0)
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, ActionVoice, res.Action)
	assert.Equal(t, []string{"hungry"}, f.voice.labels)
	assert.Empty(t, f.music.plays)
	assert.Equal(t, StateActive, res.State)
	assert.Equal(t, 10*time.Second, res.Next)
	assert.Equal(t, logging.DecisionAct, res.Decision)

	saved, saves := f.backend.Saved()
	assert.Equal(t, 1, saves)
	assert.InDelta(t, 5.3, saved.Get("hungry", ActionVoice), 1e-9)
	assert.Greater(t, saved.Get("hungry", ActionVoice), 5.0)
	assert.InDelta(t, 1.0, saved.Get("hungry", ActionMusic), 1e-9)

	require.Len(t, f.publisher.msgs, 1)
	obs := f.publisher.msgs[0].(emotion.Observation)
	assert.Equal(t, "hungry", *obs.Emotion)
	assert.InDelta(t, 0.9, *obs.Confidence, 1e-9)
	assert.Equal(t, emotion.PostureSafe, obs.Posture)
}

func TestRunCycle_SilencePublishesOnlyOnce(t *testing.T) {
	f := newFixture(t, hungrySeed(), 0)
	f.classifier.label = str(emotion.Silence)
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	require.NoError(t, res.Err)
	require.Len(t, f.publisher.msgs, 1)
	assert.Equal(t, emotion.Silence, *f.publisher.msgs[0].(emotion.Observation).Emotion)
	assert.Empty(t, f.voice.labels)
	assert.Empty(t, f.music.plays)
	_, saves := f.backend.Saved()
	assert.Zero(t, saves)
	assert.Equal(t, hungrySeed(), f.store.Table())
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, 60*time.Second, res.Next)
	assert.Equal(t, logging.DecisionIdle, res.Decision)
}

func TestRunCycle_NilLabelPublishesNullWithoutAction(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.classifier.label = nil
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	require.NoError(t, res.Err)
	require.Len(t, f.publisher.msgs, 1)
	obs := f.publisher.msgs[0].(emotion.Observation)
	assert.Nil(t, obs.Emotion)
	assert.Nil(t, obs.Confidence)
	assert.Empty(t, f.voice.labels)
	assert.Empty(t, f.music.plays)
	assert.Equal(t, StateIdle, res.State)
}

func TestRunCycle_MusicRewardsCategoryPolicy(t *testing.T) {
	seed := policy.Table{}
	seed.Set("lonely", ActionMusic, 3)
	f := newFixture(t, seed, 0)
	f.classifier.label = str("lonely")
	f.deps.Reward = func(label, action, sub string) float64 {
		assert.Equal(t, "lonely", label)
		assert.Equal(t, ActionMusic, action)
		assert.Equal(t, "rhythmic_rising_pitch", sub)
		return 0.5
	}
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, ActionMusic, res.Action)
	assert.Equal(t, "rhythmic_rising_pitch", res.Subcategory)
	require.NotNil(t, res.Reward)
	assert.Equal(t, 0.5, *res.Reward)
	assert.Equal(t, []musicReward{{"lonely", "rhythmic_rising_pitch", 0.5}}, f.music.rewards)
	// 3 + 0.6 * (0.5 + 0.9*3 - 3)
	assert.InDelta(t, 3.12, f.store.Value("lonely", ActionMusic), 1e-9)
}

// #endregion scenario-tests

// #region failure-tests

func TestRunCycle_InsufficientData(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.deps.Segments = segments{n: segmentSize - 1}
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	assert.ErrorIs(t, res.Err, ErrInsufficientData)
	assert.Equal(t, logging.DecisionSkip, res.Decision)
	assert.Zero(t, f.classifier.calls)
	assert.Empty(t, f.publisher.msgs)
	assert.Equal(t, 5*time.Second, res.Next, "no state change before the first classification")
}

func TestRunCycle_ClassifierFailure(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.classifier.err = errors.New("sidecar down")
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	var cf *CollaboratorFailure
	require.ErrorAs(t, res.Err, &cf)
	assert.Equal(t, "classifier", cf.Collaborator)
	assert.Equal(t, logging.DecisionError, res.Decision)

	require.Len(t, f.publisher.msgs, 1, "an unlabeled observation is still published")
	obs, ok := f.publisher.msgs[0].(emotion.Observation)
	require.True(t, ok)
	assert.Nil(t, obs.Emotion)
	assert.Nil(t, obs.Confidence)
	assert.Empty(t, f.voice.labels)
	assert.Empty(t, f.music.plays)
	_, saves := f.backend.Saved()
	assert.Zero(t, saves)
}

func TestRunCycle_ClassifierAndPostureFailure(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.classifier.err = errors.New("sidecar down")
	f.deps.Posture = stubPosture{err: errors.New("no reading")}
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	var cf *CollaboratorFailure
	require.ErrorAs(t, res.Err, &cf)
	assert.Contains(t, res.Err.Error(), "posture sensor")
	assert.Empty(t, f.publisher.msgs, "no posture to report")
	assert.Equal(t, logging.DecisionError, res.Decision)
}

func TestRunCycle_PostureFailure(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.deps.Posture = stubPosture{err: errors.New("no reading")}
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	var cf *CollaboratorFailure
	require.ErrorAs(t, res.Err, &cf)
	assert.Equal(t, "posture sensor", cf.Collaborator)
}

func TestRunCycle_ActuatorFailureSkipsLearning(t *testing.T) {
	f := newFixture(t, hungrySeed(), 0)
	f.voice.err = errors.New("speaker unplugged")
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	var cf *CollaboratorFailure
	require.ErrorAs(t, res.Err, &cf)
	assert.Equal(t, "voice actuator", cf.Collaborator)
	assert.Len(t, f.publisher.msgs, 1, "observation is still published")
	assert.Equal(t, hungrySeed(), f.store.Table())
	_, saves := f.backend.Saved()
	assert.Zero(t, saves)
	assert.Equal(t, StateIdle, res.State)
}

func TestRunCycle_SaveFailureKeepsDecision(t *testing.T) {
	f := newFixture(t, hungrySeed(), 0)
	cfg := policy.DefaultConfig()
	cfg.Epsilon = 0
	f.store = policy.New("channel", emotion.Categories, Actions, cfg, &failingBackend{})
	f.store.Seed(hungrySeed())
	f.deps.Channel = f.store
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	var tio *TransientIOError
	require.ErrorAs(t, res.Err, &tio)
	assert.Equal(t, "save channel policy", tio.Op)
	assert.Equal(t, logging.DecisionAct, res.Decision)
	assert.Equal(t, StateActive, res.State)
	assert.InDelta(t, 5.3, f.store.Value("hungry", ActionVoice), 1e-9)
}

func TestRunCycle_PublisherFailureDoesNotStopCycle(t *testing.T) {
	f := newFixture(t, hungrySeed(), 0)
	broken := &recordingPublisher{err: errors.New("broker gone")}
	f.deps.Publishers = []Publisher{broken, f.publisher}
	o := f.orchestrator(t)

	res := o.RunCycle(context.Background())

	require.NoError(t, res.Err)
	assert.Len(t, broken.msgs, 1)
	assert.Len(t, f.publisher.msgs, 1)
	assert.Equal(t, ActionVoice, res.Action)
}

// #endregion failure-tests

// #region run-tests

func TestRun_IntervalsFollowState(t *testing.T) {
	f := newFixture(t, hungrySeed(), 0)
	o := f.orchestrator(t)

	labels := []*string{nil, str("hungry"), str(emotion.Silence)}
	var slept []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		if len(slept) > len(labels) {
			cancel()
			return ctx.Err()
		}
		f.classifier.label = labels[len(slept)-1]
		return nil
	}

	require.NoError(t, o.Run(ctx))

	assert.Equal(t, []time.Duration{5 * time.Second, 60 * time.Second, 10 * time.Second, 60 * time.Second}, slept)
	assert.Len(t, f.journal.entries, 3)
	assert.Equal(t, logging.DecisionAct, f.journal.entries[1].Decision)
	assert.Equal(t, "hungry", f.journal.entries[1].Label)
}

func TestRun_SurvivesFailingCycles(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.classifier.err = errors.New("sidecar down")
	o := f.orchestrator(t)

	cycles := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.sleep = func(ctx context.Context, d time.Duration) error {
		cycles++
		if cycles > 5 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	require.NoError(t, o.Run(ctx))
	assert.Equal(t, 5, f.classifier.calls)
	assert.Len(t, f.journal.entries, 5)
	assert.Len(t, f.publisher.msgs, 5, "every failed cycle still reports to observers")
}

func TestRun_StopsOnCancelDuringSleep(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.deps.Intervals = Intervals{Initial: time.Hour, Idle: time.Hour, Active: time.Hour}
	o := f.orchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Zero(t, f.classifier.calls)
}

func TestTune_AppliesAtNextCycle(t *testing.T) {
	f := newFixture(t, hungrySeed(), 0)
	o := f.orchestrator(t)

	iv := Intervals{Initial: time.Second, Idle: 2 * time.Second, Active: 3 * time.Second}
	o.Tune(Tuning{Intervals: iv, ChannelEpsilon: 0.4})
	assert.Equal(t, iv, o.Intervals())
	assert.Equal(t, 0.0, f.store.Config().Epsilon, "epsilon waits for the loop goroutine")

	res := o.RunCycle(context.Background())
	assert.Equal(t, 0.4, f.store.Config().Epsilon)
	assert.Equal(t, 3*time.Second, res.Next)
}

// #endregion run-tests

func TestNew_RequiresCollaborators(t *testing.T) {
	f := newFixture(t, nil, 0)
	d := f.deps
	d.Classifier = nil
	_, err := New(d)
	assert.Error(t, err)

	d = f.deps
	d.SegmentSize = 0
	_, err = New(d)
	assert.Error(t, err)
}

func TestCycleResultEntry(t *testing.T) {
	conf := 0.8
	reward := 1.0
	res := CycleResult{
		ID:          "c-1",
		Observation: &emotion.Observation{Emotion: str("tired"), Confidence: &conf, Posture: emotion.PostureRisky},
		Action:      ActionMusic,
		Subcategory: "warm_soft_comforting",
		Reward:      &reward,
		State:       StateActive,
		Decision:    logging.DecisionAct,
		Err:         &TransientIOError{Op: "save channel policy", Err: errors.New("disk full")},
	}
	e := res.Entry()
	assert.Equal(t, "c-1", e.CycleID)
	assert.Equal(t, "tired", e.Label)
	assert.Equal(t, "risky", e.Posture)
	assert.Equal(t, "active", e.State)
	assert.Equal(t, "transient io: save channel policy: disk full", e.Reason)
}
