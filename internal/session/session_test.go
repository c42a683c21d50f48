package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gac1u21/harcapture/internal/cue"
	"github.com/gac1u21/harcapture/internal/frame"
	"github.com/gac1u21/harcapture/internal/schedule"
	"github.com/gac1u21/harcapture/internal/sensor"
	"github.com/gac1u21/harcapture/internal/upload"
)

type fakeSource struct {
	mu       sync.Mutex
	handler  sensor.Handler
	kinds    []sensor.Kind
	interval uint32
	subs     int
	unsubs   int
	err      error
}

type fakeSubscription struct {
	src *fakeSource
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) Subscribe(kinds []sensor.Kind, intervalMicros uint32, handler sensor.Handler) (sensor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.handler = handler
	f.kinds = kinds
	f.interval = intervalMicros
	f.subs++
	return &fakeSubscription{src: f}, nil
}

func (s *fakeSubscription) Unsubscribe() error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	s.src.handler = nil
	s.src.unsubs++
	return nil
}

// fill delivers n accelerometer samples with every axis set to v
func (f *fakeSource) fill(n int, v float32) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return
	}
	for i := 0; i < n; i++ {
		h(sensor.Sample{Kind: sensor.KindAccelerometer, Values: [3]float32{v, v, v}})
	}
}

// push delivers n samples of each kind to the live subscription
func (f *fakeSource) push(accel, gyro int) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return
	}
	for i := 0; i < accel; i++ {
		h(sensor.Sample{Kind: sensor.KindAccelerometer, Values: [3]float32{float32(i), 1, 2}})
	}
	for i := 0; i < gyro; i++ {
		h(sensor.Sample{Kind: sensor.KindGyroscope, Values: [3]float32{float32(i), 3, 4}})
	}
}

type sentFrame struct {
	body     string
	endpoint upload.Endpoint
}

type fakeUploader struct {
	mu     sync.Mutex
	sent   []sentFrame
	result string
	err    error
}

func (u *fakeUploader) Send(_ context.Context, body string, endpoint upload.Endpoint) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sent = append(u.sent, sentFrame{body: body, endpoint: endpoint})
	return u.result, u.err
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sent)
}

type recordingCues struct {
	mu     sync.Mutex
	played []cue.Cue
	panics bool
}

func (r *recordingCues) Play(c cue.Cue) error {
	r.mu.Lock()
	r.played = append(r.played, c)
	r.mu.Unlock()
	if r.panics {
		panic("no audio device")
	}
	return nil
}

func (r *recordingCues) has(c cue.Cue) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.played {
		if p == c {
			return true
		}
	}
	return false
}

type harness struct {
	session  *Session
	clock    *schedule.FakeClock
	source   *fakeSource
	uploader *fakeUploader
	cues     *recordingCues

	mu     sync.Mutex
	events []Event
}

func newHarness(mode Mode) *harness {
	h := &harness{
		clock:    schedule.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		source:   &fakeSource{},
		uploader: &fakeUploader{result: "You are performing Walking"},
		cues:     &recordingCues{},
	}
	h.session = New(mode, Options{
		Source:   h.source,
		Uploader: h.uploader,
		Cues:     h.cues,
		Clock:    h.clock,
		OnEvent: func(ev Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
		Go: func(f func()) { f() },
	})
	return h
}

func (h *harness) eventsOf(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// activate triggers the session and runs the countdown to completion
func (h *harness) activate(t *testing.T) {
	t.Helper()
	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	h.clock.Advance(3 * time.Second)
	if state := h.session.State(); state != StateActive {
		t.Fatalf("Expected state ACTIVE after countdown, got: %s", state)
	}
}

func TestCountdownTicksOncePerSecond(t *testing.T) {
	h := newHarness(ModeSingle)

	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}

	snap := h.session.Snapshot()
	if snap.State != StateCountingDown {
		t.Errorf("Expected COUNTING_DOWN, got: %s", snap.State)
	}
	if snap.Enabled {
		t.Error("Expected trigger to be disabled during the countdown")
	}
	if snap.Status != "Starting in 3..." {
		t.Errorf("Expected 'Starting in 3...', got: %q", snap.Status)
	}
	if !h.cues.has(cue.CueCountdown) {
		t.Error("Expected countdown cue to be played")
	}

	for _, want := range []string{"Starting in 2...", "Starting in 1..."} {
		h.clock.Advance(time.Second)
		if got := h.session.Snapshot().Status; got != want {
			t.Errorf("Expected %q, got: %q", want, got)
		}
	}
	if h.source.subs != 0 {
		t.Error("Expected no subscription before the countdown ends")
	}

	h.clock.Advance(time.Second)
	snap = h.session.Snapshot()
	if snap.State != StateActive {
		t.Errorf("Expected ACTIVE, got: %s", snap.State)
	}
	if snap.Status != StatusRecording {
		t.Errorf("Expected %q, got: %q", StatusRecording, snap.Status)
	}
	if !snap.Enabled || snap.ControlText != "Stop Recording" {
		t.Errorf("Expected enabled 'Stop Recording' control, got: %v %q", snap.Enabled, snap.ControlText)
	}
	if h.source.subs != 1 {
		t.Fatalf("Expected one subscription, got: %d", h.source.subs)
	}
	if len(h.source.kinds) != 2 || h.source.interval != sensor.DefaultIntervalMicros {
		t.Errorf("Expected accelerometer and gyroscope at %dus, got: %v at %dus",
			sensor.DefaultIntervalMicros, h.source.kinds, h.source.interval)
	}
}

func TestTriggerRejectedDuringCountdown(t *testing.T) {
	h := newHarness(ModeSingle)
	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if err := h.session.Trigger(); !errors.Is(err, ErrTriggerDisabled) {
		t.Errorf("Expected ErrTriggerDisabled, got: %v", err)
	}
}

func TestSingleSendsOnceThenIdle(t *testing.T) {
	h := newHarness(ModeSingle)
	h.activate(t)

	h.source.push(600, 550)
	handler := h.source.handler

	h.clock.Advance(10499 * time.Millisecond)
	if h.uploader.count() != 0 {
		t.Fatal("Expected no send before 10.5s")
	}

	h.clock.Advance(time.Millisecond)
	if h.uploader.count() != 1 {
		t.Fatalf("Expected exactly one send, got: %d", h.uploader.count())
	}

	sent := h.uploader.sent[0]
	if sent.endpoint != upload.EndpointPredict {
		t.Errorf("Expected predict endpoint, got: %s", sent.endpoint)
	}
	f, err := frame.Parse(sent.body)
	if err != nil {
		t.Fatalf("Failed to parse sent frame: %v", err)
	}
	if f.SeriesLength() != 500 {
		t.Errorf("Expected seriesLength 500, got: %d", f.SeriesLength())
	}
	if len(f.Channels[0]) != 500 || len(f.Channels[3]) != 500 {
		t.Errorf("Expected 500 samples per channel, got: %d and %d", len(f.Channels[0]), len(f.Channels[3]))
	}
	// the last 500 accelerometer samples start at index 100
	if f.Channels[0][0] != 100 {
		t.Errorf("Expected window to start at sample 100, got: %v", f.Channels[0][0])
	}
	if f.Label != frame.PredictionToken {
		t.Errorf("Expected label %q, got: %q", frame.PredictionToken, f.Label)
	}

	snap := h.session.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("Expected IDLE after the send, got: %s", snap.State)
	}
	if snap.Status != "You are performing Walking" {
		t.Errorf("Expected server reply as status, got: %q", snap.Status)
	}
	if h.source.unsubs != 1 {
		t.Errorf("Expected subscription to be released, got %d unsubscribes", h.source.unsubs)
	}

	// a late sample from the released subscription is not buffered
	accel, gyro := h.session.buf.Len()
	handler(sensor.Sample{Kind: sensor.KindAccelerometer})
	if a, g := h.session.buf.Len(); a != accel || g != gyro {
		t.Errorf("Expected buffer to stay at %d/%d, got: %d/%d", accel, gyro, a, g)
	}

	results := h.eventsOf(EventResult)
	if len(results) != 1 || results[0].Result != "You are performing Walking" {
		t.Errorf("Expected one result event, got: %+v", results)
	}

	h.clock.Advance(time.Minute)
	if h.uploader.count() != 1 {
		t.Errorf("Expected no further sends, got: %d", h.uploader.count())
	}
}

func TestContinuousSendsEveryTenSeconds(t *testing.T) {
	h := newHarness(ModeContinuous)
	h.activate(t)

	h.source.push(10, 10)
	h.clock.Advance(10500 * time.Millisecond)
	if h.uploader.count() != 1 {
		t.Fatalf("Expected first send at 10.5s, got: %d sends", h.uploader.count())
	}

	h.source.push(10, 10)
	h.clock.Advance(10 * time.Second)
	if h.uploader.count() != 2 {
		t.Fatalf("Expected second send 10s later, got: %d sends", h.uploader.count())
	}

	// the buffer is never cleared between sends
	f, err := frame.Parse(h.uploader.sent[1].body)
	if err != nil {
		t.Fatalf("Failed to parse frame: %v", err)
	}
	if f.SeriesLength() != 20 {
		t.Errorf("Expected cumulative seriesLength 20, got: %d", f.SeriesLength())
	}

	snap := h.session.Snapshot()
	if snap.State != StateActive || snap.Sends != 2 {
		t.Errorf("Expected ACTIVE with 2 sends, got: %s with %d", snap.State, snap.Sends)
	}

	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	h.clock.Advance(time.Minute)
	if h.uploader.count() != 2 {
		t.Errorf("Expected no sends after stop, got: %d", h.uploader.count())
	}
	if got := h.session.Snapshot().ControlText; got != "Start Continuous Recording" {
		t.Errorf("Expected 'Start Continuous Recording', got: %q", got)
	}
}

func TestLabelledSubmitUploadsSanitizedLabel(t *testing.T) {
	h := newHarness(ModeLabelled)
	h.uploader.result = "Data for StarJumps was received and saved"
	h.activate(t)

	h.source.push(5, 4)
	h.clock.Advance(10500 * time.Millisecond)

	snap := h.session.Snapshot()
	if snap.State != StateAwaitingLabel {
		t.Fatalf("Expected AWAITING_LABEL, got: %s", snap.State)
	}
	if snap.Status != StatusProcessing {
		t.Errorf("Expected %q, got: %q", StatusProcessing, snap.Status)
	}
	if len(h.eventsOf(EventLabelPrompt)) != 1 {
		t.Error("Expected a label prompt event")
	}
	if h.uploader.count() != 0 {
		t.Error("Expected no upload before a label is submitted")
	}
	if err := h.session.Trigger(); !errors.Is(err, ErrAwaitingLabel) {
		t.Errorf("Expected ErrAwaitingLabel, got: %v", err)
	}

	// samples arriving while the prompt is open are not part of the window
	h.source.push(1, 1)

	if err := h.session.SubmitLabel(" Star Jumps\n"); err != nil {
		t.Fatalf("Failed to submit label: %v", err)
	}
	if h.uploader.count() != 1 {
		t.Fatalf("Expected one upload, got: %d", h.uploader.count())
	}
	sent := h.uploader.sent[0]
	if sent.endpoint != upload.EndpointLabelUpload {
		t.Errorf("Expected label upload endpoint, got: %s", sent.endpoint)
	}
	if !strings.HasSuffix(sent.body, ":StarJumps") {
		t.Errorf("Expected frame to end with ':StarJumps', got: %q", sent.body)
	}
	f, err := frame.Parse(sent.body)
	if err != nil {
		t.Fatalf("Failed to parse frame: %v", err)
	}
	if len(f.Channels[0]) != 5 || len(f.Channels[3]) != 4 {
		t.Errorf("Expected 5 accel and 4 gyro samples, got: %d and %d", len(f.Channels[0]), len(f.Channels[3]))
	}

	snap = h.session.Snapshot()
	if snap.State != StateIdle || snap.Status != "Data for StarJumps was received and saved" {
		t.Errorf("Expected IDLE with server reply, got: %s %q", snap.State, snap.Status)
	}
	if h.source.unsubs != 1 {
		t.Errorf("Expected subscription to be released, got: %d", h.source.unsubs)
	}
}

func TestLabelledWindowFrozenWhilePromptOpen(t *testing.T) {
	h := newHarness(ModeLabelled)
	h.activate(t)

	h.source.fill(400, 1)
	h.clock.Advance(10500 * time.Millisecond)
	if state := h.session.State(); state != StateAwaitingLabel {
		t.Fatalf("Expected AWAITING_LABEL, got: %s", state)
	}

	// the user takes a while to type the label
	h.source.fill(500, 99)
	if h.source.unsubs != 0 {
		t.Error("Expected the subscription to stay open until the label is resolved")
	}

	if err := h.session.SubmitLabel("StarJumps"); err != nil {
		t.Fatalf("Failed to submit label: %v", err)
	}
	if h.uploader.count() != 1 {
		t.Fatalf("Expected one upload, got: %d", h.uploader.count())
	}
	f, err := frame.Parse(h.uploader.sent[0].body)
	if err != nil {
		t.Fatalf("Failed to parse frame: %v", err)
	}
	if len(f.Channels[0]) != 400 {
		t.Errorf("Expected the 400 recorded samples, got: %d", len(f.Channels[0]))
	}
	for i, v := range f.Channels[0] {
		if v != 1 {
			t.Fatalf("Expected only recorded samples, got %v at %d", v, i)
		}
	}
	if h.source.unsubs != 1 {
		t.Errorf("Expected subscription to be released on submit, got: %d", h.source.unsubs)
	}
}

func TestLabelledRejectsSeparatorInLabel(t *testing.T) {
	h := newHarness(ModeLabelled)
	h.activate(t)
	h.source.push(3, 3)
	h.clock.Advance(10500 * time.Millisecond)

	for _, label := range []string{"Star:Jumps", "Star,Jumps"} {
		if err := h.session.SubmitLabel(label); !errors.Is(err, ErrInvalidLabel) {
			t.Errorf("Expected ErrInvalidLabel for %q, got: %v", label, err)
		}
	}
	if h.uploader.count() != 0 {
		t.Error("Expected no network call for an invalid label")
	}
	if state := h.session.State(); state != StateAwaitingLabel {
		t.Fatalf("Expected the prompt to stay open, got: %s", state)
	}

	if err := h.session.SubmitLabel("StarJumps"); err != nil {
		t.Fatalf("Failed to submit label: %v", err)
	}
	if h.uploader.count() != 1 {
		t.Errorf("Expected one upload after a valid label, got: %d", h.uploader.count())
	}
}

func TestLabelledEmptyLabelCancels(t *testing.T) {
	h := newHarness(ModeLabelled)
	h.activate(t)
	h.clock.Advance(10500 * time.Millisecond)

	if err := h.session.SubmitLabel(" \t\n "); !errors.Is(err, ErrEmptyLabel) {
		t.Errorf("Expected ErrEmptyLabel, got: %v", err)
	}
	if h.uploader.count() != 0 {
		t.Error("Expected no network call for an empty label")
	}
	snap := h.session.Snapshot()
	if snap.State != StateIdle || snap.Status != StatusIdle {
		t.Errorf("Expected IDLE with idle status, got: %s %q", snap.State, snap.Status)
	}
}

func TestCancelLabelReturnsToIdle(t *testing.T) {
	h := newHarness(ModeLabelled)
	h.activate(t)
	h.clock.Advance(10500 * time.Millisecond)

	if err := h.session.CancelLabel(); err != nil {
		t.Fatalf("Failed to cancel label: %v", err)
	}
	if state := h.session.State(); state != StateIdle {
		t.Errorf("Expected IDLE, got: %s", state)
	}
	if h.source.unsubs != 1 {
		t.Errorf("Expected subscription to be released, got: %d", h.source.unsubs)
	}
	if err := h.session.CancelLabel(); !errors.Is(err, ErrNotAwaitingLabel) {
		t.Errorf("Expected ErrNotAwaitingLabel, got: %v", err)
	}
}

func TestManualStopCancelsPendingSend(t *testing.T) {
	h := newHarness(ModeSingle)
	h.activate(t)
	h.clock.Advance(5 * time.Second)

	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	snap := h.session.Snapshot()
	if snap.State != StateIdle || snap.Status != StatusIdle {
		t.Errorf("Expected IDLE with idle status, got: %s %q", snap.State, snap.Status)
	}

	h.clock.Advance(time.Minute)
	if h.uploader.count() != 0 {
		t.Errorf("Expected no send after manual stop, got: %d", h.uploader.count())
	}
}

func TestStopDuringCountdown(t *testing.T) {
	h := newHarness(ModeContinuous)
	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	h.clock.Advance(time.Second)
	h.session.Stop()

	h.clock.Advance(time.Minute)
	if h.source.subs != 0 {
		t.Errorf("Expected no subscription after stop, got: %d", h.source.subs)
	}
	if state := h.session.State(); state != StateIdle {
		t.Errorf("Expected IDLE, got: %s", state)
	}
}

func TestUploadRejectedShowsServerMessage(t *testing.T) {
	h := newHarness(ModeSingle)
	h.uploader.err = &upload.RejectedError{Endpoint: upload.EndpointPredict, StatusCode: 500, Message: "Internal Server Error"}
	h.activate(t)
	h.clock.Advance(10500 * time.Millisecond)

	want := "Error sending data: Internal Server Error\nPlease try again"
	if got := h.session.Snapshot().Status; got != want {
		t.Errorf("Expected %q, got: %q", want, got)
	}
	failures := h.eventsOf(EventFailure)
	if len(failures) != 1 || failures[0].Endpoint != "predict" {
		t.Errorf("Expected one predict failure event, got: %+v", failures)
	}
	if !h.cues.has(cue.CueError) {
		t.Error("Expected error cue to be played")
	}
}

func TestUploadTransportFailure(t *testing.T) {
	h := newHarness(ModeSingle)
	h.uploader.err = &upload.TransportError{Endpoint: upload.EndpointPredict, Err: errors.New("connection refused")}
	h.activate(t)
	h.clock.Advance(10500 * time.Millisecond)

	if got := h.session.Snapshot().Status; got != "Failed to send data: connection refused" {
		t.Errorf("Expected transport failure status, got: %q", got)
	}
	if state := h.session.State(); state != StateIdle {
		t.Errorf("Expected IDLE, got: %s", state)
	}
}

func TestContinuousKeepsRunningAfterFailure(t *testing.T) {
	h := newHarness(ModeContinuous)
	h.uploader.err = &upload.TransportError{Endpoint: upload.EndpointPredict, Err: errors.New("connection refused")}
	h.activate(t)

	h.source.push(10, 10)
	h.clock.Advance(10500 * time.Millisecond)
	if h.uploader.count() != 1 {
		t.Fatalf("Expected first send at 10.5s, got: %d sends", h.uploader.count())
	}

	snap := h.session.Snapshot()
	if snap.State != StateActive {
		t.Errorf("Expected ACTIVE after a failed send, got: %s", snap.State)
	}
	if snap.Status != "Failed to send data: connection refused" {
		t.Errorf("Expected transport failure status, got: %q", snap.Status)
	}
	if !h.cues.has(cue.CueError) {
		t.Error("Expected error cue to be played")
	}

	h.clock.Advance(10 * time.Second)
	snap = h.session.Snapshot()
	if h.uploader.count() != 2 || snap.Sends != 2 {
		t.Errorf("Expected a second send 10s later, got: %d uploads, %d sends", h.uploader.count(), snap.Sends)
	}
	if snap.State != StateActive {
		t.Errorf("Expected ACTIVE, got: %s", snap.State)
	}
	if h.source.unsubs != 0 {
		t.Errorf("Expected the subscription to stay open, got: %d unsubscribes", h.source.unsubs)
	}
}

func TestCuePanicDoesNotBreakSession(t *testing.T) {
	h := newHarness(ModeSingle)
	h.cues.panics = true
	h.activate(t)
	h.clock.Advance(10500 * time.Millisecond)

	if h.uploader.count() != 1 {
		t.Errorf("Expected one send despite failing cues, got: %d", h.uploader.count())
	}
	if state := h.session.State(); state != StateIdle {
		t.Errorf("Expected IDLE, got: %s", state)
	}
}

func TestSubscribeFailureReturnsToIdle(t *testing.T) {
	h := newHarness(ModeSingle)
	h.source.err = errors.New("sensor unavailable")
	if err := h.session.Trigger(); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	h.clock.Advance(3 * time.Second)

	if state := h.session.State(); state != StateIdle {
		t.Errorf("Expected IDLE, got: %s", state)
	}
	failures := h.eventsOf(EventFailure)
	if len(failures) != 1 {
		t.Fatalf("Expected a failure event, got: %d", len(failures))
	}
	if failures[0].Text != "Failed to start recording: sensor unavailable" {
		t.Errorf("Expected start failure text, got: %q", failures[0].Text)
	}
	if failures[0].Endpoint != "" {
		t.Errorf("Expected no endpoint on a start failure, got: %q", failures[0].Endpoint)
	}
	if got := h.session.Snapshot().Status; got != failures[0].Text {
		t.Errorf("Expected status to show the start failure, got: %q", got)
	}
	if !h.cues.has(cue.CueError) {
		t.Error("Expected error cue to be played")
	}
	h.clock.Advance(time.Minute)
	if h.uploader.count() != 0 {
		t.Errorf("Expected no send, got: %d", h.uploader.count())
	}
}

func TestSessionCanRunAgain(t *testing.T) {
	h := newHarness(ModeSingle)
	h.activate(t)
	h.source.push(3, 3)
	h.clock.Advance(10500 * time.Millisecond)

	h.activate(t)
	if accel, gyro := h.session.buf.Len(); accel != 0 || gyro != 0 {
		t.Errorf("Expected buffer cleared on activation, got: %d/%d", accel, gyro)
	}
	h.source.push(2, 2)
	h.clock.Advance(10500 * time.Millisecond)

	if h.uploader.count() != 2 {
		t.Fatalf("Expected two sends, got: %d", h.uploader.count())
	}
	f, err := frame.Parse(h.uploader.sent[1].body)
	if err != nil {
		t.Fatalf("Failed to parse frame: %v", err)
	}
	if f.SeriesLength() != 2 {
		t.Errorf("Expected seriesLength 2, got: %d", f.SeriesLength())
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"single", ModeSingle, false},
		{"C", ModeContinuous, false},
		{"labeled", ModeLabelled, false},
		{"burst", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
