package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/halloy/songreel/internal/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// timerQueue captures deferred cooldown callbacks so tests fire them
// deterministically instead of sleeping.
type timerQueue struct {
	mu      sync.Mutex
	pending []struct {
		d  time.Duration
		fn func()
	}
}

func (q *timerQueue) afterFunc(d time.Duration, fn func()) *time.Timer {
	q.mu.Lock()
	q.pending = append(q.pending, struct {
		d  time.Duration
		fn func()
	}{d, fn})
	q.mu.Unlock()
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// fire pops the oldest pending timer, advances the clock by its delay and
// runs its callback. Returns false when nothing is armed.
func (q *timerQueue) fire(clock *fakeClock) bool {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	entry := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	clock.Advance(entry.d)
	entry.fn()
	return true
}

type fakeScheduler struct {
	mu        sync.Mutex
	advances  int
	assembles int
}

func (f *fakeScheduler) EnqueueAdvance(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances++
	return nil
}

func (f *fakeScheduler) EnqueueAssemble(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assembles++
	return nil
}

func (f *fakeScheduler) takeAdvance() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advances == 0 {
		return false
	}
	f.advances--
	return true
}

func (f *fakeScheduler) assembleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assembles
}

type videoCall struct {
	prompt  string
	backend string
	at      time.Time
}

type fakeVideoGen struct {
	mu    sync.Mutex
	clock *fakeClock
	calls []videoCall
	// failWhen returns an error for prompts it wants to fail
	failWhen func(prompt string) error
	// panicWhen returns a non-empty message for prompts whose call should
	// panic instead of returning
	panicWhen func(prompt string) string
	panicMsg  string
}

func (f *fakeVideoGen) GenerateVideo(ctx context.Context, prompt, aspectRatio, backend string) (string, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.panicWhen != nil {
		if msg := f.panicWhen(prompt); msg != "" {
			panic(msg)
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, videoCall{prompt: prompt, backend: backend, at: f.clock.Now()})
	n := len(f.calls)
	f.mu.Unlock()
	if f.failWhen != nil {
		if err := f.failWhen(prompt); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("scenes/video-%d.mp4", n), nil
}

func (f *fakeVideoGen) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeImageGen struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeImageGen) GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, prompt)
	return fmt.Sprintf("scenes/image-%d.png", len(f.calls)), nil
}

func (f *fakeImageGen) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAssembler struct {
	mu      sync.Mutex
	calls   int
	handle  string
	started chan struct{}
	proceed chan struct{}
}

func (f *fakeAssembler) Assemble(ctx context.Context, parts []AssemblyPart, audioURL string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.proceed != nil {
		<-f.proceed
	}
	if f.handle == "" {
		return "combined/test.mp4", nil
	}
	return f.handle, nil
}

type fakeStore struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeStore) Release(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, handle)
	return nil
}

func (f *fakeStore) waitReleased(t *testing.T, handle string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, h := range f.released {
			if h == handle {
				f.mu.Unlock()
				return
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("artifact %s was never released", handle)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	pipeline *Pipeline
	clock    *fakeClock
	timers   *timerQueue
	sched    *fakeScheduler
	video    *fakeVideoGen
	image    *fakeImageGen
	asm      *fakeAssembler
	store    *fakeStore
}

func newHarness(t *testing.T, backends []string) *harness {
	t.Helper()
	clock := newFakeClock()
	h := &harness{
		clock:  clock,
		timers: &timerQueue{},
		sched:  &fakeScheduler{},
		video:  &fakeVideoGen{clock: clock},
		image:  &fakeImageGen{},
		asm:    &fakeAssembler{},
		store:  &fakeStore{},
	}
	p, err := New(h.video, h.image, h.asm, h.store, h.sched, Options{
		Backends: backends,
		Cooldown: 61 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	p.now = clock.Now
	p.afterFunc = h.timers.afterFunc
	h.pipeline = p
	return h
}

func newTestSession(t *testing.T, videos, images int) *Session {
	t.Helper()
	var scenes []models.StoryboardScene
	n := 1
	for i := 0; i < videos; i++ {
		scenes = append(scenes, models.StoryboardScene{
			SceneNumber:      n,
			MediaKind:        models.MediaKindVideo,
			DescriptiveText:  fmt.Sprintf("video scene %d", n),
			GenerationPrompt: fmt.Sprintf("video prompt %d", n),
		})
		n++
	}
	for i := 0; i < images; i++ {
		scenes = append(scenes, models.StoryboardScene{
			SceneNumber:      n,
			MediaKind:        models.MediaKindImage,
			DescriptiveText:  fmt.Sprintf("image scene %d", n),
			GenerationPrompt: fmt.Sprintf("image prompt %d", n),
		})
		n++
	}
	s, err := NewSession("Test Song", "https://example.com/song.mp3", "16:9", scenes)
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	return s
}

// pump drives the session until no queued advance and no armed timer
// remains, mimicking the scheduler loop plus deferred cooldown callbacks.
func (h *harness) pump(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		if h.sched.takeAdvance() {
			_ = h.pipeline.Advance(ctx, s)
			continue
		}
		if h.timers.fire(h.clock) {
			continue
		}
		return
	}
	t.Fatal("pipeline did not quiesce after 200 steps")
}

func itemByNumber(t *testing.T, s *Session, n int) models.MediaItem {
	t.Helper()
	_, items, _ := s.Snapshot()
	for _, it := range items {
		if it.SceneNumber == n {
			return it
		}
	}
	t.Fatalf("scene %d not found in snapshot", n)
	return models.MediaItem{}
}

// ---------------------------------------------------------------------------
// Scenario tests
// ---------------------------------------------------------------------------

// Three video scenes, no images, one backend: pass 1 dispatches one batch of
// two and stops at cursor exhaustion, the image pass is a no-op, pass 2
// wraps the cursor and sweeps up the remaining scene. Two batches total.
func TestAllVideoSingleBackend(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	s := newTestSession(t, 3, 0)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got := h.video.callCount(); got != 2 {
		t.Fatalf("expected first batch of 2, got %d calls", got)
	}

	h.pump(t, s)

	if got := h.video.callCount(); got != 3 {
		t.Errorf("expected 3 total video calls, got %d", got)
	}
	if stage := s.Stage(); stage != models.StageDone {
		t.Errorf("expected stage done, got %s", stage)
	}

	// Two dispatched batches, never more than 2 scenes per batch: call
	// timestamps must cluster into exactly two distinct dispatch instants.
	h.video.mu.Lock()
	instants := map[time.Time]int{}
	for _, c := range h.video.calls {
		instants[c.at]++
	}
	h.video.mu.Unlock()
	if len(instants) != 2 {
		t.Errorf("expected 2 dispatch batches, got %d", len(instants))
	}
	for at, n := range instants {
		if n > 2 {
			t.Errorf("batch at %v contained %d video scenes, max is 2", at, n)
		}
	}

	_, items, _ := s.Snapshot()
	for _, it := range items {
		if it.Status != models.SceneStatusComplete {
			t.Errorf("scene %d: expected complete, got %s", it.SceneNumber, it.Status)
		}
	}
}

// Five image scenes, no videos: the image pass dispatches all five in one
// batch with no cooldown, then pass 2 finds nothing and the stage lands on
// done with assembly authorized.
func TestAllImages(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	s := newTestSession(t, 0, 5)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got := h.image.callCount(); got != 5 {
		t.Fatalf("expected all 5 images in the first batch, got %d calls", got)
	}

	h.pump(t, s)

	if stage := s.Stage(); stage != models.StageDone {
		t.Errorf("expected stage done, got %s", stage)
	}
	if got := h.video.callCount(); got != 0 {
		t.Errorf("expected no video calls, got %d", got)
	}
	if got := h.sched.assembleCount(); got != 1 {
		t.Errorf("expected exactly 1 assembly authorization, got %d", got)
	}
}

// A failing scene in a video batch must not affect its sibling, and the
// pipeline must keep moving as if both had succeeded.
func TestPartialBatchFailure(t *testing.T) {
	h := newHarness(t, []string{"veo-a", "veo-b"})
	h.video.failWhen = func(prompt string) error {
		if strings.Contains(prompt, "prompt 2") {
			return fmt.Errorf("quota exceeded for project")
		}
		return nil
	}
	s := newTestSession(t, 2, 0)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	h.pump(t, s)

	it1 := itemByNumber(t, s, 1)
	if it1.Status != models.SceneStatusComplete {
		t.Errorf("scene 1: expected complete, got %s", it1.Status)
	}
	if it1.ArtifactHandle == "" {
		t.Error("scene 1: expected artifact handle")
	}

	it2 := itemByNumber(t, s, 2)
	if it2.Status != models.SceneStatusFailed {
		t.Errorf("scene 2: expected failed, got %s", it2.Status)
	}
	if !strings.Contains(it2.ErrorDetail, "quota exceeded") {
		t.Errorf("scene 2: expected quota error detail, got %q", it2.ErrorDetail)
	}

	if stage := s.Stage(); stage != models.StageDone {
		t.Errorf("expected stage done despite failure, got %s", stage)
	}

	// Failed scenes block assembly readiness.
	status, _, _ := s.Snapshot()
	if status.ReadyToAssemble {
		t.Error("pipeline must not be ready to assemble with a failed scene")
	}
	if got := h.sched.assembleCount(); got != 0 {
		t.Errorf("expected no assembly authorization, got %d", got)
	}

	// No automatic retry: only the original two calls were made.
	if got := h.video.callCount(); got != 2 {
		t.Errorf("expected 2 video calls (no retries), got %d", got)
	}
}

// Regenerating a complete scene resets only that scene plus the shared
// stage/cursor/combined-artifact state, and releases the stale artifacts.
func TestRegeneration(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	s := newTestSession(t, 1, 1)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	h.pump(t, s)

	if got := h.sched.assembleCount(); got != 1 {
		t.Fatalf("expected 1 assembly authorization, got %d", got)
	}
	if err := h.pipeline.Assemble(context.Background(), s); err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	status, _, combined := s.Snapshot()
	if !status.Assembled || combined == "" {
		t.Fatalf("expected combined artifact, got status=%+v combined=%q", status, combined)
	}

	before2 := itemByNumber(t, s, 2)
	oldHandle := itemByNumber(t, s, 1).ArtifactHandle

	if err := h.pipeline.Regenerate(context.Background(), s, 1); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}

	it1 := itemByNumber(t, s, 1)
	if it1.Status != models.SceneStatusPending {
		t.Errorf("scene 1: expected pending after regenerate, got %s", it1.Status)
	}
	if it1.ArtifactHandle != "" || it1.ErrorDetail != "" {
		t.Errorf("scene 1: expected cleared handle/error, got %+v", it1)
	}
	if stage := s.Stage(); stage != models.StageInitial {
		t.Errorf("expected stage initial after regenerate, got %s", stage)
	}
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()
	if cursor != 0 {
		t.Errorf("expected cursor reset to 0, got %d", cursor)
	}

	// Scene 2 is untouched.
	after2 := itemByNumber(t, s, 2)
	if after2 != before2 {
		t.Errorf("scene 2 changed by regeneration: before=%+v after=%+v", before2, after2)
	}

	// Stale artifacts are released: the scene's old clip and the combined cut.
	h.store.waitReleased(t, oldHandle)
	h.store.waitReleased(t, combined)

	status, _, newCombined := s.Snapshot()
	if status.Assembled || newCombined != "" {
		t.Error("combined artifact must be invalidated by regeneration")
	}

	// The pipeline re-runs scene 1 and re-authorizes assembly exactly once
	// on the new ready transition.
	h.pump(t, s)
	if got := itemByNumber(t, s, 1).Status; got != models.SceneStatusComplete {
		t.Errorf("scene 1: expected complete after re-run, got %s", got)
	}
	if got := h.sched.assembleCount(); got != 2 {
		t.Errorf("expected a second assembly authorization, got %d total", got)
	}
}

// Regeneration is rejected for scenes that are not terminal.
func TestRegenerateRejectsNonTerminal(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	s := newTestSession(t, 1, 0)

	if err := h.pipeline.Regenerate(context.Background(), s, 1); err == nil {
		t.Error("expected regeneration of a pending scene to fail")
	}
	if err := h.pipeline.Regenerate(context.Background(), s, 99); err == nil {
		t.Error("expected regeneration of an unknown scene to fail")
	}
}

// Two advances inside the cooldown window: the second dispatches nothing and
// reports the remaining wait; after the window elapses a dispatch goes
// through, and consecutive dispatch timestamps are spaced by >= cooldown.
func TestCooldownCollision(t *testing.T) {
	h := newHarness(t, []string{"veo-a", "veo-b"})
	s := newTestSession(t, 4, 0)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got := h.video.callCount(); got != 2 {
		t.Fatalf("expected first batch of 2, got %d", got)
	}
	h.sched.takeAdvance() // consume the post-batch follow-up

	// Second advance lands inside the window: no dispatch, wait reported.
	h.clock.Advance(20 * time.Second)
	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got := h.video.callCount(); got != 2 {
		t.Errorf("expected no dispatch inside cooldown window, got %d calls", got)
	}
	s.mu.Lock()
	remaining := s.cooldownUntil.Sub(h.clock.Now())
	s.mu.Unlock()
	if remaining != 41*time.Second {
		t.Errorf("expected 41s remaining cooldown, got %v", remaining)
	}

	// While deferred, further advances are no-ops (running guard held).
	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got := h.video.callCount(); got != 2 {
		t.Errorf("expected guard to block dispatch during deferral, got %d calls", got)
	}

	// Timer fires after the window: the third advance dispatches normally.
	h.pump(t, s)
	if got := h.video.callCount(); got != 4 {
		t.Errorf("expected second batch after cooldown, got %d calls", got)
	}

	// Cooldown property over dispatch start times.
	h.video.mu.Lock()
	t1, t2 := h.video.calls[0].at, h.video.calls[2].at
	h.video.mu.Unlock()
	if spacing := t2.Sub(t1); spacing < 61*time.Second {
		t.Errorf("consecutive video dispatches spaced %v, want >= 61s", spacing)
	}
}

// advance() at done with nothing pending performs no mutation.
func TestAdvanceIdempotentAtDone(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	s := newTestSession(t, 0, 2)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	h.pump(t, s)

	if stage := s.Stage(); stage != models.StageDone {
		t.Fatalf("expected stage done, got %s", stage)
	}
	statusBefore, itemsBefore, _ := s.Snapshot()
	images := h.image.callCount()
	assembles := h.sched.assembleCount()

	for i := 0; i < 3; i++ {
		if err := h.pipeline.Advance(context.Background(), s); err != nil {
			t.Fatalf("advance failed: %v", err)
		}
	}

	statusAfter, itemsAfter, _ := s.Snapshot()
	if statusAfter != statusBefore {
		t.Errorf("status changed by advance at done: %+v -> %+v", statusBefore, statusAfter)
	}
	for i := range itemsBefore {
		if itemsAfter[i] != itemsBefore[i] {
			t.Errorf("item %d changed by advance at done", itemsBefore[i].SceneNumber)
		}
	}
	if h.image.callCount() != images {
		t.Error("advance at done dispatched image calls")
	}
	if h.sched.assembleCount() != assembles {
		t.Error("advance at done re-authorized assembly")
	}
}

// An empty storyboard never produces a session.
func TestEmptyStoryboardRejected(t *testing.T) {
	if _, err := NewSession("x", "https://example.com/a.mp3", "16:9", nil); err == nil {
		t.Error("expected empty storyboard to be rejected")
	}
}

// A panic out of the dispatch layer conservatively fails every batch item
// and surfaces a fatal error; nothing is left stuck in generating.
func TestCatastrophicDispatch(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	h.video.panicMsg = "backend client exploded"
	s := newTestSession(t, 2, 0)

	err := h.pipeline.Advance(context.Background(), s)
	if err == nil {
		t.Fatal("expected advance to surface the dispatch error")
	}
	if !strings.Contains(err.Error(), "backend client exploded") {
		t.Errorf("unexpected error: %v", err)
	}

	_, items, _ := s.Snapshot()
	for _, it := range items {
		if it.Status == models.SceneStatusGenerating {
			t.Errorf("scene %d stuck in generating after catastrophic dispatch", it.SceneNumber)
		}
		if it.Status != models.SceneStatusFailed {
			t.Errorf("scene %d: expected failed, got %s", it.SceneNumber, it.Status)
		}
	}

	status, _, _ := s.Snapshot()
	if status.FatalError == "" {
		t.Error("expected fatal error in status")
	}

	// State stays resumable: regeneration clears the way.
	h.video.panicMsg = ""
	if err := h.pipeline.Regenerate(context.Background(), s, 1); err != nil {
		t.Fatalf("regenerate after catastrophe failed: %v", err)
	}
	if err := h.pipeline.Regenerate(context.Background(), s, 2); err != nil {
		t.Fatalf("regenerate after catastrophe failed: %v", err)
	}
	h.pump(t, s)
	if stage := s.Stage(); stage != models.StageDone {
		t.Errorf("expected stage done after recovery, got %s", stage)
	}
}

// A panic on one scene's call while its sibling returns normally is still
// catastrophic: individual outcomes cannot be trusted, so the whole batch is
// conservatively failed and the error surfaces.
func TestCatastrophicDispatchWithSuccessfulSibling(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	h.video.panicWhen = func(prompt string) string {
		if strings.Contains(prompt, "prompt 2") {
			return "nil pointer in backend client"
		}
		return ""
	}
	s := newTestSession(t, 2, 0)

	err := h.pipeline.Advance(context.Background(), s)
	if err == nil {
		t.Fatal("expected advance to surface the dispatch error")
	}
	if !strings.Contains(err.Error(), "nil pointer in backend client") {
		t.Errorf("unexpected error: %v", err)
	}

	_, items, _ := s.Snapshot()
	for _, it := range items {
		if it.Status != models.SceneStatusFailed {
			t.Errorf("scene %d: expected failed, got %s", it.SceneNumber, it.Status)
		}
	}

	// The sibling's artifact is orphaned by the conservative fail and must
	// be released.
	h.store.waitReleased(t, "scenes/video-1.mp4")
}

// Image batches are capped at the configured size; leftover images go out in
// a later batch during the same pass.
func TestImageBatchBound(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	s := newTestSession(t, 0, 25)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got := h.image.callCount(); got != 20 {
		t.Fatalf("expected first image batch capped at 20, got %d", got)
	}

	h.pump(t, s)
	if got := h.image.callCount(); got != 25 {
		t.Errorf("expected all 25 images generated, got %d", got)
	}
	if stage := s.Stage(); stage != models.StageDone {
		t.Errorf("expected stage done, got %s", stage)
	}
}

// A regeneration racing with an in-flight assembly invalidates the result:
// the freshly built combined artifact is released, not recorded.
func TestRegenerationDuringAssemblyDiscardsResult(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	h.asm.handle = "combined/stale.mp4"
	h.asm.started = make(chan struct{})
	h.asm.proceed = make(chan struct{})
	s := newTestSession(t, 1, 0)

	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	h.pump(t, s)

	done := make(chan error, 1)
	started := h.asm.started
	go func() { done <- h.pipeline.Assemble(context.Background(), s) }()
	<-started

	if err := h.pipeline.Regenerate(context.Background(), s, 1); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	close(h.asm.proceed)

	if err := <-done; err != nil {
		t.Fatalf("assemble returned error: %v", err)
	}

	_, _, combined := s.Snapshot()
	if combined != "" {
		t.Errorf("stale assembly result was recorded: %q", combined)
	}
	h.store.waitReleased(t, "combined/stale.mp4")
}

// The key set of media items always equals the key set of storyboard scenes.
func TestKeySetInvariant(t *testing.T) {
	h := newHarness(t, []string{"veo-a"})
	s := newTestSession(t, 2, 3)

	check := func(when string) {
		t.Helper()
		scenes := s.Scenes()
		_, items, _ := s.Snapshot()
		if len(items) != len(scenes) {
			t.Fatalf("%s: %d items for %d scenes", when, len(items), len(scenes))
		}
		for i := range scenes {
			if items[i].SceneNumber != scenes[i].SceneNumber {
				t.Errorf("%s: item %d keyed %d, scene keyed %d", when, i, items[i].SceneNumber, scenes[i].SceneNumber)
			}
		}
	}

	check("at start")
	if err := h.pipeline.Advance(context.Background(), s); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	check("after first batch")
	h.pump(t, s)
	check("at done")
	if err := h.pipeline.Regenerate(context.Background(), s, 1); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	check("after regeneration")
}

func TestNewRejectsEmptyBackendList(t *testing.T) {
	if _, err := New(&fakeVideoGen{clock: newFakeClock()}, &fakeImageGen{}, &fakeAssembler{}, &fakeStore{}, &fakeScheduler{}, Options{}); err != ErrNoBackends {
		t.Errorf("expected ErrNoBackends, got %v", err)
	}
}
