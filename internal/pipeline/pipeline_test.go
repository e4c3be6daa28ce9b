package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/asr"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/credits"
	"github.com/voxlens/voxlens/internal/diarize"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/refine"
	"github.com/voxlens/voxlens/internal/repository"
)

// recordQueue captures enqueued tasks so tests can drive the stage chain
// by hand, one handler call at a time.
type recordQueue struct {
	mu     sync.Mutex
	tasks  []async.Task
	delays []time.Duration
}

func (q *recordQueue) Enqueue(_ context.Context, task async.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	q.delays = append(q.delays, 0)
	return nil
}

func (q *recordQueue) EnqueueIn(_ context.Context, delay time.Duration, task async.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	q.delays = append(q.delays, delay)
	return nil
}

func (q *recordQueue) Shutdown(context.Context) {}

func (q *recordQueue) pop(t *testing.T) (async.Task, time.Duration) {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		t.Fatal("expected an enqueued task, queue is empty")
	}
	task, delay := q.tasks[0], q.delays[0]
	q.tasks, q.delays = q.tasks[1:], q.delays[1:]
	return task, delay
}

func (q *recordQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type fakeTranscriber struct {
	mu     sync.Mutex
	calls  int
	result *asr.Result
	err    error
}

func (f *fakeTranscriber) Transcribe(context.Context, string, string) (*asr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDiarizer answers Status calls from a script, repeating the last
// entry once the script is exhausted.
type fakeDiarizer struct {
	mu       sync.Mutex
	started  []string
	startErr error
	script   []*diarize.Status
	statErr  error
	polls    int
}

func (f *fakeDiarizer) Start(_ context.Context, jobID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeDiarizer) Status(_ context.Context, _ string) (*diarize.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statErr != nil {
		return nil, f.statErr
	}
	idx := f.polls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.polls++
	return f.script[idx], nil
}

// promptCompleter keys on the system prompt so the same fake serves both
// the refinement and the summary pass.
type promptCompleter struct {
	err error
}

func (p *promptCompleter) ChatComplete(_ context.Context, _, system, user string, _ float32) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	switch {
	case strings.Contains(system, "transcription editor"):
		return "refined: " + user, nil
	case strings.Contains(system, "executive summary"):
		return "summary of the call", nil
	case strings.Contains(system, "2-3 sentences"):
		return "carry", nil
	default:
		return "part-summary", nil
	}
}

type fixture struct {
	jobs     *repository.MemoryJobRepository
	creditDB *repository.MemoryCreditRepository
	ledger   *credits.Ledger
	queue    *recordQueue
	asr      *fakeTranscriber
	diarizer *fakeDiarizer
	workers  *Workers
	userID   uuid.UUID
}

func newFixture(t *testing.T, trans *fakeTranscriber, dia *fakeDiarizer, maxAttempts int) *fixture {
	t.Helper()
	jobs := repository.NewMemoryJobRepository()
	creditDB := repository.NewMemoryCreditRepository()
	ledger := credits.NewLedger(creditDB, jobs, nil)
	queue := &recordQueue{}
	engine := refine.NewEngine(&promptCompleter{}, "big", "fast", 0.3, nil)
	workers := NewWorkers(jobs, ledger, queue, trans, dia, engine, time.Second, maxAttempts, nil)

	userID := uuid.New()
	if err := creditDB.EnsureUser(context.Background(), userID, 100); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	return &fixture{
		jobs: jobs, creditDB: creditDB, ledger: ledger, queue: queue,
		asr: trans, diarizer: dia, workers: workers, userID: userID,
	}
}

// createJob reserves credits, records the debit and persists a queued job,
// mirroring what the intake path does before the pipeline takes over.
func (f *fixture) createJob(t *testing.T, diarization bool) *entity.Job {
	t.Helper()
	ctx := context.Background()
	required := credits.RequiredCredits(2.0, diarization)
	ok, err := f.ledger.Reserve(ctx, f.userID, required)
	if err != nil || !ok {
		t.Fatalf("Reserve: ok=%v err=%v", ok, err)
	}
	job := &entity.Job{
		ID:                 uuid.New(),
		UserID:             f.userID,
		FileName:           "standup.mp3",
		FileKey:            "uploads/standup.mp3",
		Status:             constants.JobStatusQueued,
		Language:           "en",
		DurationMinutes:    2.0,
		DiarizationEnabled: diarization,
		CreditsRequired:    required,
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	txType := constants.TxTranscription
	if diarization {
		txType = constants.TxTranscriptionDiarization
	}
	if err := f.ledger.CreateDebit(ctx, f.userID, job.ID, required, txType, "transcription of standup.mp3"); err != nil {
		t.Fatalf("CreateDebit: %v", err)
	}
	return job
}

func (f *fixture) getJob(t *testing.T, id uuid.UUID) *entity.Job {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

func (f *fixture) balance(t *testing.T) int {
	t.Helper()
	b, err := f.creditDB.GetBalance(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return b
}

func twoSegments() []entity.Segment {
	return []entity.Segment{
		{Start: 0, End: 4, Text: "Good morning everyone."},
		{Start: 4, End: 9, Text: "Let's get started."},
	}
}

func TestTranscribeAndRefineWithoutDiarization(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{
		Text:     "Good morning everyone. Let's get started.",
		Language: "en",
		Duration: 120,
		Segments: twoSegments(),
	}}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	job := f.createJob(t, false)

	if got := f.balance(t); got != 98 {
		t.Fatalf("balance after reservation = %d, want 98", got)
	}

	err := f.workers.HandleTranscription(ctx, async.Task{
		Stage:   constants.StageTranscription,
		Payload: TranscriptionTask{JobID: job.ID, FilePath: "", Language: "en"},
	})
	if err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}

	stored := f.getJob(t, job.ID)
	if stored.Status != constants.JobStatusTranscribed {
		t.Fatalf("status = %s, want transcribed", stored.Status)
	}
	if !strings.Contains(stored.SubtitleContent, "00:00:00,000 --> 00:00:04,000") {
		t.Errorf("subtitle content missing timecode block:\n%s", stored.SubtitleContent)
	}

	next, delay := f.queue.pop(t)
	if next.Stage != constants.StageRefinement || delay != 0 {
		t.Fatalf("next stage = %s (delay %v), want immediate refinement", next.Stage, delay)
	}

	if err := f.workers.HandleRefinement(ctx, next); err != nil {
		t.Fatalf("HandleRefinement: %v", err)
	}

	stored = f.getJob(t, job.ID)
	if !strings.HasPrefix(stored.RefinedTranscript, "refined:") {
		t.Errorf("refined transcript = %q", stored.RefinedTranscript)
	}
	if stored.Summary != "summary of the call" {
		t.Errorf("summary = %q", stored.Summary)
	}
	if !stored.CreditsCharged {
		t.Error("credits not marked charged after refinement")
	}

	debit, err := f.creditDB.GetDebitByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetDebitByJob: %v", err)
	}
	if debit.Status != constants.TxCompleted {
		t.Errorf("debit status = %s, want completed", debit.Status)
	}
	if got := f.balance(t); got != 98 {
		t.Errorf("balance after settlement = %d, want 98", got)
	}
}

func TestTranscriptionFailureRefunds(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{err: errors.New("asr unavailable")}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	job := f.createJob(t, false)

	err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID},
	})
	if err == nil {
		t.Fatal("expected transcription error")
	}

	stored := f.getJob(t, job.ID)
	if stored.Status != constants.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "asr unavailable") {
		t.Errorf("error message = %q", stored.ErrorMessage)
	}
	if got := f.balance(t); got != 100 {
		t.Errorf("balance after refund = %d, want 100", got)
	}
	// The debit is superseded by the refund and no longer refundable.
	if _, err := f.creditDB.GetDebitByJob(ctx, job.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetDebitByJob after refund = %v, want ErrNotFound", err)
	}
}

func TestDuplicateTranscriptionDeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{Text: "hi", Segments: twoSegments()}}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	job := f.createJob(t, false)

	task := async.Task{Payload: TranscriptionTask{JobID: job.ID}}
	if err := f.workers.HandleTranscription(ctx, task); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.workers.HandleTranscription(ctx, task); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if trans.callCount() != 1 {
		t.Errorf("transcriber called %d times, want 1", trans.callCount())
	}
	if f.queue.size() != 1 {
		t.Errorf("queued %d downstream tasks, want 1", f.queue.size())
	}
}

func TestDiarizationPollChain(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{Text: "hello", Segments: twoSegments()}}
	dia := &fakeDiarizer{script: []*diarize.Status{
		{State: diarize.StateProcessing, Progress: 40},
		{State: diarize.StateCompleted, Progress: 100, Result: &diarize.Result{
			Segments: []entity.SpeakerSegment{{Start: 0, End: 9, Speaker: "SPEAKER_00"}},
		}},
	}}
	f := newFixture(t, trans, dia, 10)
	job := f.createJob(t, true)

	if got := f.balance(t); got != 97 {
		t.Fatalf("balance after diarization reservation = %d, want 97", got)
	}

	err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID, DiarizationEnabled: true},
	})
	if err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	if len(dia.started) != 1 || dia.started[0] != job.ID.String() {
		t.Fatalf("diarization started for %v, want [%s]", dia.started, job.ID)
	}

	poll, delay := f.queue.pop(t)
	if poll.Stage != constants.StageDiarization || delay != time.Second {
		t.Fatalf("first poll: stage=%s delay=%v", poll.Stage, delay)
	}

	// First poll: still processing, progress recorded, chain continues.
	if err := f.workers.HandleDiarizationPoll(ctx, poll); err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	stored := f.getJob(t, job.ID)
	if stored.DiarizationProgress != 40 {
		t.Errorf("progress = %d, want 40", stored.DiarizationProgress)
	}

	poll, delay = f.queue.pop(t)
	if delay != time.Second {
		t.Fatalf("re-poll delay = %v", delay)
	}
	if poll.Payload.(DiarizationPollTask).Attempt != 1 {
		t.Errorf("attempt = %d, want 1", poll.Payload.(DiarizationPollTask).Attempt)
	}

	// Second poll: completed. Refinement waits for speaker confirmation.
	if err := f.workers.HandleDiarizationPoll(ctx, poll); err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	stored = f.getJob(t, job.ID)
	if stored.DiarizationStatus == nil || *stored.DiarizationStatus != constants.DiarizationCompleted {
		t.Fatalf("diarization status = %v, want completed", stored.DiarizationStatus)
	}
	if stored.DiarizationProgress != 100 {
		t.Errorf("progress = %d, want 100", stored.DiarizationProgress)
	}
	if !stored.RefinementPending {
		t.Error("refinement_pending cleared before speaker confirmation")
	}
	if len(stored.SpeakerSegments) != 1 || stored.SpeakerSegments[0].Speaker != "SPEAKER_00" {
		t.Errorf("speaker segments = %+v", stored.SpeakerSegments)
	}
	if _, ok := stored.SpeakerProfiles["SPEAKER_00"]; !ok {
		t.Errorf("speaker profiles = %+v, want derived SPEAKER_00 entry", stored.SpeakerProfiles)
	}
	if f.queue.size() != 0 {
		t.Errorf("queue holds %d tasks after completion, want 0", f.queue.size())
	}
}

func TestDiarizationProgressNeverRegresses(t *testing.T) {
	ctx := context.Background()
	dia := &fakeDiarizer{script: []*diarize.Status{
		{State: diarize.StateProcessing, Progress: 50},
		{State: diarize.StateProcessing, Progress: 30},
	}}
	trans := &fakeTranscriber{result: &asr.Result{Text: "x", Segments: twoSegments()}}
	f := newFixture(t, trans, dia, 10)
	job := f.createJob(t, true)

	if err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID, DiarizationEnabled: true},
	}); err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}

	for i := 0; i < 2; i++ {
		poll, _ := f.queue.pop(t)
		if err := f.workers.HandleDiarizationPoll(ctx, poll); err != nil {
			t.Fatalf("poll %d: %v", i+1, err)
		}
	}
	if got := f.getJob(t, job.ID).DiarizationProgress; got != 50 {
		t.Errorf("progress = %d, want 50 (no regression)", got)
	}
}

func TestDiarizationTimeoutFailsSubStateAndRefunds(t *testing.T) {
	ctx := context.Background()
	dia := &fakeDiarizer{script: []*diarize.Status{
		{State: diarize.StateProcessing, Progress: 10},
	}}
	trans := &fakeTranscriber{result: &asr.Result{Text: "x", Segments: twoSegments()}}
	f := newFixture(t, trans, dia, 2)
	job := f.createJob(t, true)

	if err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID, DiarizationEnabled: true},
	}); err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}

	poll, _ := f.queue.pop(t)
	if err := f.workers.HandleDiarizationPoll(ctx, poll); err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	poll, _ = f.queue.pop(t)
	if err := f.workers.HandleDiarizationPoll(ctx, poll); err == nil {
		t.Fatal("expected timeout error on final attempt")
	}

	stored := f.getJob(t, job.ID)
	if stored.Status != constants.JobStatusTranscribed {
		t.Errorf("status = %s, want transcribed (transcript survives)", stored.Status)
	}
	if stored.DiarizationStatus == nil || *stored.DiarizationStatus != constants.DiarizationFailed {
		t.Errorf("diarization status = %v, want failed", stored.DiarizationStatus)
	}
	if stored.RefinementPending {
		t.Error("refinement_pending still set after timeout")
	}
	if !strings.Contains(stored.ErrorMessage, "timed out") {
		t.Errorf("error message = %q", stored.ErrorMessage)
	}
	if got := f.balance(t); got != 100 {
		t.Errorf("balance after refund = %d, want 100", got)
	}
}

func TestDiarizationJobNotFoundOnProvider(t *testing.T) {
	ctx := context.Background()
	dia := &fakeDiarizer{statErr: diarize.ErrJobNotFound}
	trans := &fakeTranscriber{result: &asr.Result{Text: "x", Segments: twoSegments()}}
	f := newFixture(t, trans, dia, 10)
	job := f.createJob(t, true)

	if err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID, DiarizationEnabled: true},
	}); err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	poll, _ := f.queue.pop(t)
	if err := f.workers.HandleDiarizationPoll(ctx, poll); err == nil {
		t.Fatal("expected error for missing provider job")
	}

	stored := f.getJob(t, job.ID)
	if stored.DiarizationStatus == nil || *stored.DiarizationStatus != constants.DiarizationFailed {
		t.Errorf("diarization status = %v, want failed", stored.DiarizationStatus)
	}
	if got := f.balance(t); got != 100 {
		t.Errorf("balance after refund = %d, want 100", got)
	}
}

func TestRefinementFailureRefunds(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{Text: "hi there", Segments: twoSegments()}}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	f.workers.engine = refine.NewEngine(&promptCompleter{err: errors.New("model overloaded")}, "big", "fast", 0.3, nil)
	job := f.createJob(t, false)

	if err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID},
	}); err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	next, _ := f.queue.pop(t)
	if err := f.workers.HandleRefinement(ctx, next); err == nil {
		t.Fatal("expected refinement error")
	}

	stored := f.getJob(t, job.ID)
	if stored.Status != constants.JobStatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if got := f.balance(t); got != 100 {
		t.Errorf("balance after refund = %d, want 100", got)
	}
}

func TestDuplicateRefinementDeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{Text: "hi", Segments: twoSegments()}}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	job := f.createJob(t, false)

	if err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID},
	}); err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	next, _ := f.queue.pop(t)
	if err := f.workers.HandleRefinement(ctx, next); err != nil {
		t.Fatalf("first refinement: %v", err)
	}
	first := f.getJob(t, job.ID).RefinedTranscript
	if err := f.workers.HandleRefinement(ctx, next); err != nil {
		t.Fatalf("second refinement: %v", err)
	}
	if got := f.getJob(t, job.ID).RefinedTranscript; got != first {
		t.Errorf("refined transcript changed on duplicate delivery")
	}
}

func TestTasksForDeletedJobsAreDropped(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{Text: "hi", Segments: twoSegments()}}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	missing := uuid.New()

	if err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: missing},
	}); err != nil {
		t.Errorf("transcription for deleted job: %v", err)
	}
	if err := f.workers.HandleDiarizationPoll(ctx, async.Task{
		Payload: DiarizationPollTask{JobID: missing},
	}); err != nil {
		t.Errorf("poll for deleted job: %v", err)
	}
	if err := f.workers.HandleRefinement(ctx, async.Task{
		Payload: RefinementTask{JobID: missing, FullText: "x"},
	}); err != nil {
		t.Errorf("refinement for deleted job: %v", err)
	}
	if trans.callCount() != 0 {
		t.Errorf("transcriber called for deleted job")
	}
}

func TestWorkerWritesCannotMoveStatusBackwards(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{Text: "hi", Segments: twoSegments()}}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	job := f.createJob(t, false)

	transcribed := constants.JobStatusTranscribed
	if err := f.jobs.Update(ctx, job.ID, entity.JobUpdate{Status: &transcribed}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	running := constants.JobStatusRunning
	msg := "late delivery"
	if err := f.workers.update(ctx, job.ID, entity.JobUpdate{Status: &running, ErrorMessage: &msg}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got := f.getJob(t, job.ID)
	if got.Status != constants.JobStatusTranscribed {
		t.Errorf("status = %s, want transcribed to stick", got.Status)
	}
	if got.ErrorMessage != msg {
		t.Errorf("error message = %q, want the non-status fields applied", got.ErrorMessage)
	}
}

// countingCompleter returns empty output so the refined transcript stays
// blank even on success.
type countingCompleter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCompleter) ChatComplete(context.Context, string, string, string, float32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "", nil
}

func (c *countingCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRefinementWithEmptyOutputIsNotReprocessed(t *testing.T) {
	ctx := context.Background()
	trans := &fakeTranscriber{result: &asr.Result{Text: "hi", Segments: twoSegments()}}
	f := newFixture(t, trans, &fakeDiarizer{}, 10)
	completer := &countingCompleter{}
	f.workers.engine = refine.NewEngine(completer, "big", "fast", 0.3, nil)
	job := f.createJob(t, false)

	if err := f.workers.HandleTranscription(ctx, async.Task{
		Payload: TranscriptionTask{JobID: job.ID},
	}); err != nil {
		t.Fatalf("HandleTranscription: %v", err)
	}
	next, _ := f.queue.pop(t)
	if err := f.workers.HandleRefinement(ctx, next); err != nil {
		t.Fatalf("first refinement: %v", err)
	}

	if got := f.getJob(t, job.ID); !got.CreditsCharged {
		t.Fatal("credits not settled after refinement")
	}
	settled := completer.callCount()

	if err := f.workers.HandleRefinement(ctx, next); err != nil {
		t.Fatalf("second refinement: %v", err)
	}
	if got := completer.callCount(); got != settled {
		t.Errorf("completer called %d more times on duplicate delivery", got-settled)
	}
}
