// Package workflow drives a single station through analysis, the optional
// frequency change and the reconnection wait.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/events"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/history"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/station"
	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

const (
	msgAnalyzing       = "analyzing station"
	msgCompleted       = "analysis completed"
	msgSkipped         = "analysis completed (frequencies not enabled)"
	msgEnabling        = "enabling frequencies"
	msgEnabled         = "frequencies enabled"
	msgWaiting         = "device offline, waiting for reconnection"
	msgOptimized       = "analysis completed and device optimized"
	msgEnableFailed    = "could not enable frequencies"
	msgNotReconnected  = "device did not reconnect"
	defaultRecommended = "enable additional frequencies for this model"

	// persistTimeout bounds history, audit and event writes.
	persistTimeout = 5 * time.Second
)

// Recorder writes the audit log. Failures are logged and never change the
// workflow.
type Recorder interface {
	CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
	SetFeedback(ctx context.Context, id int64, fb models.Feedback) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets where phase transitions are published.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithRecorder enables the audit log.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMaxWait sets the reconnection window passed to the station API.
func WithMaxWait(seconds int) Option {
	return func(o *Orchestrator) {
		if seconds > 0 {
			o.maxWait = seconds
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns the workflow state. Intents validate and transition
// synchronously; station calls run in background tasks bound to a run token.
// A task whose token no longer matches when it finishes is discarded.
type Orchestrator struct {
	client    station.Client
	history   *history.Store
	publisher events.Publisher
	recorder  Recorder
	maxWait   int
	now       func() time.Time

	mu                sync.Mutex
	state             State
	runID             uuid.UUID
	recordID          int64
	feedbackSubmitted bool
	cancelWait        context.CancelFunc

	outboxMu sync.Mutex
	outbox   []events.Event
	draining bool

	tasks sync.WaitGroup
}

// New creates an idle Orchestrator.
func New(client station.Client, hist *history.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:    client,
		history:   hist,
		publisher: events.Discard{},
		maxWait:   station.DefaultMaxWaitSeconds,
		now:       time.Now,
		state:     Idle{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins a new run. Allowed from idle or completed.
func (o *Orchestrator) Start(req models.AnalysisRequest) error {
	req.DeviceIP = strings.TrimSpace(req.DeviceIP)
	req.DeviceMAC = strings.TrimSpace(req.DeviceMAC)
	if req.DeviceIP == "" {
		return &ValidationError{Field: "ip", Message: "device IP is required"}
	}
	if req.DeviceMAC != "" {
		if _, err := net.ParseMAC(withSeparators(req.DeviceMAC)); err != nil {
			return &ValidationError{Field: "mac", Message: "malformed MAC address"}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state.(type) {
	case Idle, Completed:
	default:
		return &TransitionError{Op: "start", Phase: o.state.Phase()}
	}

	runID := uuid.New()
	o.runID = runID
	o.recordID = 0
	o.feedbackSubmitted = false
	o.setState(Analyzing{Request: req, Progress: models.Progress{Message: msgAnalyzing}})

	o.tasks.Add(1)
	go o.runAnalyze(runID, req)
	return nil
}

// ConfirmApplyFrequencies applies the recommended frequency change.
func (o *Orchestrator) ConfirmApplyFrequencies() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	fp, ok := o.state.(FrequencyPrompt)
	if !ok {
		return &TransitionError{Op: "apply frequencies", Phase: o.state.Phase()}
	}

	runID := o.runID
	o.setState(EnablingFrequencies{Result: fp.Result, Progress: models.Progress{Message: msgEnabling}})

	o.tasks.Add(1)
	go o.runEnable(runID, fp.Result)
	return nil
}

// SkipFrequencies declines the frequency change and completes the run.
func (o *Orchestrator) SkipFrequencies() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	fp, ok := o.state.(FrequencyPrompt)
	if !ok {
		return &TransitionError{Op: "skip frequencies", Phase: o.state.Phase()}
	}
	o.setState(Completed{Result: fp.Result, Progress: models.Progress{Message: msgSkipped}})
	return nil
}

// Reset abandons the current run from any phase. An in-flight reconnection
// wait is cancelled; any other in-flight call is left to finish and its
// result discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancelWait != nil {
		o.cancelWait()
		o.cancelWait = nil
	}
	o.runID = uuid.Nil
	o.recordID = 0
	o.feedbackSubmitted = false
	o.setState(Idle{})
}

// SubmitFeedback attaches the operator's comment to the current run's result.
// At most one submission is accepted per run.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, fb models.Feedback) error {
	fb.Comment = strings.TrimSpace(fb.Comment)
	fb.Rating = strings.TrimSpace(fb.Rating)
	if fb.Comment == "" {
		return &ValidationError{Field: "comment", Message: "comment is required"}
	}
	switch fb.Rating {
	case "", models.FeedbackHelpful, models.FeedbackNotHelpful, models.FeedbackIncorrect:
	default:
		return &ValidationError{Field: "rating", Message: fmt.Sprintf("unknown rating %q", fb.Rating)}
	}

	o.mu.Lock()
	result := ResultOf(o.state)
	if result == nil {
		o.mu.Unlock()
		return ErrNoResult
	}
	if o.feedbackSubmitted {
		o.mu.Unlock()
		return ErrFeedbackSubmitted
	}
	o.feedbackSubmitted = true
	runID, recordID := o.runID, o.recordID
	o.mu.Unlock()

	slog.Info("feedback received", "run_id", runID, "ip", result.IP, "rating", fb.Rating)

	if o.recorder != nil && recordID != 0 {
		if err := o.recorder.SetFeedback(ctx, recordID, fb); err != nil {
			slog.Warn("recording feedback failed", "error", err, "run_id", runID, "record_id", recordID)
		}
	}
	return nil
}

// FlowStatus fetches connectivity details for ip. It does not touch the
// workflow state.
func (o *Orchestrator) FlowStatus(ctx context.Context, ip string) (models.FlowStatus, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, &ValidationError{Field: "ip", Message: "device IP is required"}
	}
	return o.client.FlowStatus(ctx, ip)
}

// History returns the analysis log, most recent first.
func (o *Orchestrator) History(ctx context.Context) []models.HistoryEntry {
	return o.history.LoadAll(ctx)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns the JSON view of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Phase:             o.state.Phase(),
		Busy:              Busy(o.state),
		Result:            ResultOf(o.state),
		FeedbackSubmitted: o.feedbackSubmitted,
	}
	if o.runID != uuid.Nil {
		snap.RunID = o.runID.String()
	}
	if p, ok := ProgressOf(o.state); ok {
		snap.Progress = &p
	}
	if f := FailureOf(o.state); f != nil {
		info := f.Info()
		snap.Error = &info
	}
	switch st := o.state.(type) {
	case Analyzing:
		req := st.Request
		snap.Request = &req
	case Completed:
		snap.Connection = st.Connection
	}
	return snap
}

// Wait blocks until every background task has finished and every queued
// event has been published.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}

// WaitContext is Wait bounded by ctx. Station calls are not interrupted, so a
// slow device can outlast ctx.
func (o *Orchestrator) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workflow tasks: %w", ctx.Err())
	}
}

func (o *Orchestrator) isCurrent(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID == runID
}

func (o *Orchestrator) runAnalyze(runID uuid.UUID, req models.AnalysisRequest) {
	defer o.tasks.Done()
	defer o.recoverTask(runID)

	started := o.now()
	result, err := o.client.Analyze(context.Background(), req)
	elapsed := o.now().Sub(started)

	o.finishAnalyze(runID, req, result, err, elapsed)
}

// finishAnalyze persists the outcome of an analyze call and transitions. The
// audit insert and history append run without o.mu so intents and reads are
// never held up by storage.
func (o *Orchestrator) finishAnalyze(runID uuid.UUID, req models.AnalysisRequest, result *models.AnalysisResult, err error, elapsed time.Duration) {
	if !o.isCurrent(runID) {
		slog.Info("discarding late analyze response", "run_id", runID, "ip", req.DeviceIP)
		return
	}

	recordID := o.record(runID, req, result, err, elapsed)
	if err == nil && o.isCurrent(runID) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := o.history.Append(ctx, o.history.NewEntry(result, o.now())); err != nil {
			slog.Warn("appending history failed", "error", err, "run_id", runID)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runID != runID {
		slog.Info("run reset while persisting analysis", "run_id", runID, "ip", req.DeviceIP)
		return
	}
	o.recordID = recordID

	if err != nil {
		o.setState(Idle{Failure: &Failure{Phase: PhaseAnalyzing, Kind: models.FailureTransport, Err: err}})
		return
	}

	if !result.Succeeded() {
		fail := &AnalysisFailedError{Status: result.Status, Message: result.Message}
		o.setState(Idle{Failure: &Failure{Phase: PhaseAnalyzing, Kind: models.FailureStatus, Err: fail}})
		return
	}

	if result.NeedsFrequencyEnable {
		rec := result.Summary()
		if rec == "" {
			rec = defaultRecommended
		}
		o.setState(FrequencyPrompt{
			Result: result,
			Progress: models.Progress{
				Message:        fmt.Sprintf("frequency change recommended for %s", modelName(result)),
				Recommendation: rec,
			},
		})
		return
	}
	o.setState(Completed{Result: result, Progress: models.Progress{Message: msgCompleted}})
}

func (o *Orchestrator) runEnable(runID uuid.UUID, result *models.AnalysisResult) {
	defer o.tasks.Done()
	defer o.recoverTask(runID)

	res, err := o.client.EnableFrequencies(context.Background(), result.IP, result.IdentifiedModel)

	waitCtx, ok := o.finishEnable(runID, result, res, err)
	if !ok {
		return
	}

	conn, err := o.client.WaitForConnection(waitCtx, result.IP, o.maxWait)
	o.finishWait(runID, result, conn, err)
}

// finishEnable applies the enable outcome. It returns a wait context and true
// when the station went offline and the reconnection wait must follow.
func (o *Orchestrator) finishEnable(runID uuid.UUID, result *models.AnalysisResult, res *models.FrequencyEnableResult, err error) (context.Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runID != runID {
		slog.Info("discarding late enable response", "run_id", runID, "ip", result.IP)
		return nil, false
	}

	if err != nil {
		o.setState(FrequencyPrompt{
			Result:   result,
			Progress: models.Progress{Message: msgEnableFailed},
			Failure:  &Failure{Phase: PhaseEnablingFrequencies, Kind: models.FailureTransport, Err: err},
		})
		return nil, false
	}

	if !res.DeviceOffline {
		msg := res.Message
		if msg == "" {
			msg = msgEnabled
		}
		o.setState(Completed{Result: result, Progress: models.Progress{Message: msg}})
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancelWait = cancel
	o.setState(WaitingConnection{
		Result:   result,
		Progress: models.Progress{Message: msgWaiting, MaxWaitSeconds: o.maxWait},
	})
	return ctx, true
}

func (o *Orchestrator) finishWait(runID uuid.UUID, result *models.AnalysisResult, conn *models.ConnectionWaitResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runID != runID {
		slog.Info("discarding late reconnection result", "run_id", runID, "ip", result.IP)
		return
	}
	if o.cancelWait != nil {
		o.cancelWait()
		o.cancelWait = nil
	}

	switch {
	case err != nil && errors.Is(err, station.ErrTimeout):
		o.fail(result, &ConnectionTimeoutError{MaxWaitSeconds: o.maxWait, Err: err})
	case err != nil:
		o.setState(FrequencyPrompt{
			Result:   result,
			Progress: models.Progress{Message: msgEnableFailed},
			Failure:  &Failure{Phase: PhaseWaitingConnection, Kind: models.FailureTransport, Err: err},
		})
	case !conn.ConnectionRestored:
		o.fail(result, &ConnectionTimeoutError{
			Attempts:       conn.Attempts,
			ElapsedSeconds: conn.ElapsedSeconds,
			MaxWaitSeconds: o.maxWait,
		})
	default:
		o.setState(Completed{
			Result: result,
			Progress: models.Progress{
				Message:                  msgOptimized,
				ConnectionElapsedSeconds: conn.ElapsedSeconds,
			},
			Connection: conn,
		})
	}
}

func (o *Orchestrator) fail(result *models.AnalysisResult, err *ConnectionTimeoutError) {
	o.setState(Failed{
		Result:   result,
		Progress: models.Progress{Message: msgNotReconnected, MaxWaitSeconds: err.MaxWaitSeconds},
		Failure:  Failure{Phase: PhaseWaitingConnection, Kind: models.FailureTimeout, Err: err},
	})
}

// recoverTask turns a panic in a background task into a failure of the phase
// the task was driving. The caller must not hold o.mu.
func (o *Orchestrator) recoverTask(runID uuid.UUID) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("panic in workflow task", "error", r, "run_id", runID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runID != runID {
		return
	}

	err := fmt.Errorf("internal error: %v", r)
	switch st := o.state.(type) {
	case Analyzing:
		o.setState(Idle{Failure: &Failure{Phase: PhaseAnalyzing, Kind: models.FailureInternal, Err: err}})
	case EnablingFrequencies:
		o.setState(FrequencyPrompt{Result: st.Result, Progress: models.Progress{Message: msgEnableFailed},
			Failure: &Failure{Phase: PhaseEnablingFrequencies, Kind: models.FailureInternal, Err: err}})
	case WaitingConnection:
		if o.cancelWait != nil {
			o.cancelWait()
			o.cancelWait = nil
		}
		o.setState(FrequencyPrompt{Result: st.Result, Progress: models.Progress{Message: msgEnableFailed},
			Failure: &Failure{Phase: PhaseWaitingConnection, Kind: models.FailureInternal, Err: err}})
	}
}

// record writes the audit row for an analyze call and returns its ID, or 0
// when nothing was recorded. Caller must not hold o.mu.
func (o *Orchestrator) record(runID uuid.UUID, req models.AnalysisRequest, result *models.AnalysisResult, callErr error, elapsed time.Duration) int64 {
	if o.recorder == nil {
		return 0
	}

	rec := &models.AnalysisRecord{
		RunID:           runID,
		DeviceIP:        req.DeviceIP,
		DeviceMAC:       optional(req.DeviceMAC),
		ExecutionTimeMS: elapsed.Milliseconds(),
	}
	if callErr != nil {
		rec.Status = models.AnalysisStatusFailure
		rec.ErrorMessage = optional(callErr.Error())
	} else {
		rec.DeviceIP = result.IP
		rec.DeviceModel = optional(result.IdentifiedModel)
		rec.Status = result.Status
		rec.Success = result.Succeeded()
		rec.LLMSummary = optional(result.Summary())
		rec.Response = map[string]any{
			"identified_model":       result.IdentifiedModel,
			"needs_frequency_enable": result.NeedsFrequencyEnable,
			"llm_analysis":           result.LLMAnalysis,
			"device_data":            result.DeviceData,
		}
		if !rec.Success {
			rec.ErrorMessage = optional(result.Message)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.recorder.CreateAnalysis(ctx, rec); err != nil {
		slog.Warn("recording analysis failed", "error", err, "run_id", runID)
		return 0
	}
	return rec.ID
}

// setState transitions and queues an event for the new phase. Caller holds o.mu.
func (o *Orchestrator) setState(s State) {
	from := o.state.Phase()
	o.state = s
	slog.Info("workflow transition", "run_id", o.runID, "from", from, "to", s.Phase())

	ev := events.Event{
		ID:    uuid.NewString(),
		Phase: string(s.Phase()),
		At:    o.now().UTC(),
	}
	if o.runID != uuid.Nil {
		ev.RunID = o.runID.String()
	}
	if p, ok := ProgressOf(s); ok {
		ev.Progress = p
	}
	if f := FailureOf(s); f != nil {
		info := f.Info()
		ev.Error = &info
	}
	if r := ResultOf(s); r != nil {
		ev.IP, ev.Model = r.IP, r.IdentifiedModel
	} else if a, ok := s.(Analyzing); ok {
		ev.IP = a.Request.DeviceIP
	}

	o.enqueue(ev)
}

// enqueue hands ev to the single outbox drainer, starting it if idle. Caller
// holds o.mu, so the queue is in transition order.
func (o *Orchestrator) enqueue(ev events.Event) {
	o.outboxMu.Lock()
	defer o.outboxMu.Unlock()

	o.outbox = append(o.outbox, ev)
	if o.draining {
		return
	}
	o.draining = true
	o.tasks.Add(1)
	go o.drainOutbox()
}

// drainOutbox publishes queued events one at a time until the queue is empty.
func (o *Orchestrator) drainOutbox() {
	defer o.tasks.Done()
	for {
		o.outboxMu.Lock()
		if len(o.outbox) == 0 {
			o.draining = false
			o.outboxMu.Unlock()
			return
		}
		ev := o.outbox[0]
		o.outbox = o.outbox[1:]
		o.outboxMu.Unlock()

		o.publish(ev)
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic publishing workflow event", "error", r, "phase", ev.Phase)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("publishing workflow event failed", "error", err, "phase", ev.Phase)
	}
}

func modelName(r *models.AnalysisResult) string {
	if r.IdentifiedModel == "" {
		return "unknown model"
	}
	return r.IdentifiedModel
}

// withSeparators turns a bare 12-digit MAC ("AABBCCDDEEFF") into the colon
// form net.ParseMAC accepts. Anything else is returned unchanged.
func withSeparators(mac string) string {
	if len(mac) != 12 {
		return mac
	}
	var b strings.Builder
	for i := 0; i < len(mac); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(mac[i : i+2])
	}
	return b.String()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
