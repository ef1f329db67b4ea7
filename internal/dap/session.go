package dap

import (
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/ctagard/dap-engine/internal/errors"
	"github.com/ctagard/dap-engine/pkg/types"
)

// Options tunes a session's timeouts and policies.
type Options struct {
	// ClientID and ClientName identify this engine to the adapter in
	// the initialize request.
	ClientID   string
	ClientName string

	// RequestTimeout bounds every ordinary request/response exchange.
	RequestTimeout time.Duration

	// LaunchTimeout bounds the launch exchange, which some adapters
	// hold open until configurationDone.
	LaunchTimeout time.Duration

	// EventTimeout bounds waits for protocol-sequencing events
	// (initialized, the stop-on-entry stop).
	EventTimeout time.Duration

	// EvaluateWhileRunning permits evaluate requests while the
	// debuggee is executing. Off unless the deployment knows its
	// adapter supports it; DAP does not advertise a capability for
	// this, so it cannot be auto-detected from the initialize
	// response.
	EvaluateWhileRunning bool

	// TerminateDebuggee asks the adapter to kill the debuggee on
	// disconnect.
	TerminateDebuggee bool
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "dap-engine"
	}
	if o.ClientName == "" {
		o.ClientName = "DAP Engine"
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = 30 * time.Second
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 10 * time.Second
	}
	return o
}

// Session is the aggregate root of one debug session: it owns the
// client (and through it the transport and reader goroutine), the
// state machine, the breakpoint store, the active thread/frame
// selection, and, when the adapter was spawned rather than dialed, the
// child process.
//
// A session is created when the adapter's streams are attached and is
// destroyed when terminate completes or the stream closes underneath
// it. It is safe for concurrent use; each operation suspends only its
// own caller.
type Session struct {
	ID string

	client      *Client
	machine     *stateMachine
	breakpoints *BreakpointStore
	opts        Options

	proc   *exec.Cmd
	procID int

	mu           sync.Mutex
	activeThread int
	activeFrame  int
	frames       []types.StackFrame
	lastStop     *types.StoppedInfo
	launchCh     <-chan dap.ResponseMessage
	stopOnEntry  bool
}

// NewSession wires a connected transport into a session. The reader
// goroutine starts immediately; no requests are issued until
// Initialize.
func NewSession(transport *Transport, opts Options) *Session {
	opts = opts.withDefaults()
	client := NewClient(transport)

	s := &Session{
		ID:      uuid.New().String(),
		client:  client,
		machine: newStateMachine(),
		opts:    opts,
	}
	s.breakpoints = NewBreakpointStore(client, opts.RequestTimeout)

	client.SetEventObserver(s.observeEvent)
	client.SetFatalHandler(s.onStreamDeath)
	return s
}

// AttachProcess hands the session the spawned adapter process so that
// teardown can reap its process group.
func (s *Session) AttachProcess(cmd *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = cmd
	if cmd != nil && cmd.Process != nil {
		s.procID = cmd.Process.Pid
	}
}

// State returns the session's current phase.
func (s *Session) State() types.SessionState {
	return s.machine.current()
}

// Breakpoints exposes the session's breakpoint store.
func (s *Session) Breakpoints() *BreakpointStore {
	return s.breakpoints
}

// Capabilities returns the adapter capabilities advertised at
// initialize time.
func (s *Session) Capabilities() dap.Capabilities {
	return s.client.Capabilities()
}

// LastStop returns the most recent stop information, or nil while the
// debuggee has not stopped yet.
func (s *Session) LastStop() *types.StoppedInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastStop == nil {
		return nil
	}
	cp := *s.lastStop
	return &cp
}

// observeEvent runs on the reader goroutine for every incoming event,
// in arrival order, before any waiter sees it. It keeps the state
// machine in step with the debuggee.
func (s *Session) observeEvent(evt dap.EventMessage) {
	switch e := evt.(type) {
	case *dap.StoppedEvent:
		if err := s.machine.transition(types.StateStopped); err != nil {
			log.Printf("dap: ignoring stopped event in state %s", s.machine.current())
			return
		}
		s.mu.Lock()
		s.lastStop = &types.StoppedInfo{
			Reason:      e.Body.Reason,
			ThreadID:    e.Body.ThreadId,
			Description: e.Body.Description,
			AllStopped:  e.Body.AllThreadsStopped,
		}
		if e.Body.ThreadId != 0 {
			s.activeThread = e.Body.ThreadId
		}
		// Frames from the previous stop are stale now.
		s.frames = nil
		s.activeFrame = 0
		s.mu.Unlock()
	case *dap.ContinuedEvent:
		if err := s.machine.transition(types.StateRunning); err == nil {
			s.invalidateFrames()
		}
	case *dap.TerminatedEvent, *dap.ExitedEvent:
		log.Printf("dap: debuggee reported %s", evt.GetEvent().Event)
	}
}

// onStreamDeath runs once when the transport dies. It is the single
// place fatal errors are handled: the state machine is forced to
// Terminated (the client has already failed all pending requests and
// waiters) and the adapter process group is reaped.
func (s *Session) onStreamDeath(cause error) {
	s.machine.forceTerminated()
	s.reapProcess()
	if cause != nil {
		log.Printf("dap: session %s terminated: %v", s.ID, cause)
	}
}

func (s *Session) reapProcess() {
	s.mu.Lock()
	cmd, pid := s.proc, s.procID
	s.proc = nil
	s.mu.Unlock()

	if cmd == nil && pid == 0 {
		return
	}
	if err := killProcessGroup(pid, cmd); err != nil {
		log.Printf("dap: failed to kill adapter process group (pid %d): %v", pid, err)
	}
}

func (s *Session) invalidateFrames() {
	s.mu.Lock()
	s.frames = nil
	s.activeFrame = 0
	s.mu.Unlock()
}

// --- Initialization and launch sequencing ---

// Initialize performs the initialize exchange and waits for the
// adapter's initialized event. Legal only once, from Uninitialized.
func (s *Session) Initialize() (dap.Capabilities, error) {
	if err := s.machine.requireAndMove("initialize", types.StateInitializing, types.StateUninitialized); err != nil {
		return dap.Capabilities{}, err
	}

	caps, err := s.client.Initialize(s.opts.ClientID, s.opts.ClientName, s.opts.RequestTimeout)
	if err != nil {
		return dap.Capabilities{}, err
	}

	if _, err := s.client.WaitEvent(EventNamed("initialized"), s.opts.EventTimeout); err != nil {
		return dap.Capabilities{}, err
	}

	if err := s.machine.transition(types.StateInitialized); err != nil {
		return dap.Capabilities{}, err
	}
	return caps, nil
}

// Launch issues the launch request and leaves the session in
// Launching, the breakpoint-configuration window. The launch response
// is collected later, during ConfigurationDone, because adapters like
// debugpy defer it until configuration ends.
func (s *Session) Launch(args types.LaunchArguments) error {
	if err := s.machine.requireAndMove("launch", types.StateLaunching, types.StateInitialized); err != nil {
		return err
	}

	ch, err := s.client.LaunchAsync(args.Wire())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.launchCh = ch
	s.stopOnEntry = args.StopOnEntry
	s.mu.Unlock()
	return nil
}

// ConfigurationDone ends the breakpoint-configuration window and
// collects the deferred launch response. With stop-on-entry the
// adapter follows up with a stopped/reason=entry event and the session
// ends up Stopped; otherwise it moves to Running. Breakpoints remain
// settable from that entry Stop until the first continue, so
// stop-on-entry callers still get a pre-execution configuration
// window after launch completes.
func (s *Session) ConfigurationDone() error {
	if err := s.machine.require("configurationDone", types.StateLaunching, types.StateStopped); err != nil {
		return err
	}

	if err := s.client.ConfigurationDone(s.opts.RequestTimeout); err != nil {
		return err
	}

	s.mu.Lock()
	ch := s.launchCh
	s.launchCh = nil
	stopOnEntry := s.stopOnEntry
	s.mu.Unlock()

	if ch != nil {
		if _, err := s.client.AwaitResponse(ch, "launch", s.opts.LaunchTimeout); err != nil {
			return err
		}
	}

	if stopOnEntry {
		// The observer moves the machine to Stopped and records the
		// thread before this wait returns.
		if _, err := s.client.WaitEvent(StoppedWithReason("entry"), s.opts.EventTimeout); err != nil {
			return err
		}
		return nil
	}

	if s.machine.current() == types.StateLaunching {
		return s.machine.transition(types.StateRunning)
	}
	return nil
}

// --- Breakpoint operations (gated, then delegated to the store) ---

// SetBreakpoint upserts a breakpoint. Legal only while the debuggee is
// not executing (Launching or Stopped).
func (s *Session) SetBreakpoint(file string, line int, condition string) (types.Breakpoint, error) {
	if err := s.machine.require("setBreakpoint", types.StateLaunching, types.StateStopped); err != nil {
		return types.Breakpoint{}, err
	}
	return s.breakpoints.Set(file, line, condition)
}

// RemoveBreakpoint drops a breakpoint, re-sending the file's remaining
// set. Same gating as SetBreakpoint.
func (s *Session) RemoveBreakpoint(file string, line int) error {
	if err := s.machine.require("removeBreakpoint", types.StateLaunching, types.StateStopped); err != nil {
		return err
	}
	return s.breakpoints.Remove(file, line)
}

// RemoveAllBreakpoints clears every breakpoint. Same gating as
// SetBreakpoint.
func (s *Session) RemoveAllBreakpoints() error {
	if err := s.machine.require("removeAllBreakpoints", types.StateLaunching, types.StateStopped); err != nil {
		return err
	}
	return s.breakpoints.RemoveAll()
}

// ListBreakpoints snapshots the current breakpoints per file. Legal in
// any state; purely local.
func (s *Session) ListBreakpoints() map[string][]types.Breakpoint {
	return s.breakpoints.List()
}

// --- Execution control ---

// Continue resumes the active thread. Legal only from Stopped; the
// session moves to Running as soon as the adapter acknowledges, without
// waiting for the next stop.
func (s *Session) Continue() error {
	return s.resume("continue", s.client.Continue)
}

// Next steps over the current line.
func (s *Session) Next() error {
	return s.resume("next", s.client.Next)
}

// StepIn steps into the call on the current line.
func (s *Session) StepIn() error {
	return s.resume("stepIn", s.client.StepIn)
}

// StepOut steps out of the current function.
func (s *Session) StepOut() error {
	return s.resume("stepOut", s.client.StepOut)
}

// resume moves to Running before the request goes out: the next stopped
// event can arrive ahead of the ack, and the observer must find the
// machine already Running to record that stop as a transition. A
// rejected request therefore exposes a brief Running window to
// concurrent State readers before the rollback below.
func (s *Session) resume(op string, send func(threadID int, timeout time.Duration) error) error {
	if err := s.machine.requireAndMove(op, types.StateRunning, types.StateStopped); err != nil {
		return err
	}

	s.mu.Lock()
	thread := s.activeThread
	s.mu.Unlock()
	s.invalidateFrames()

	if err := send(thread, s.opts.RequestTimeout); err != nil {
		// The debuggee never moved; put the stop back unless the
		// session died underneath us.
		if terr := s.machine.transition(types.StateStopped); terr != nil {
			log.Printf("dap: %s failed and session is %s: %v", op, s.machine.current(), err)
		}
		return err
	}
	return nil
}

// WaitStopped suspends until the debuggee next stops, consuming the
// stopped event. Callers that want synchronous stepping pair this with
// Continue/Next/StepIn/StepOut.
func (s *Session) WaitStopped(timeout time.Duration) (*types.StoppedInfo, error) {
	evt, err := s.client.WaitEvent(StoppedWithReason(""), timeout)
	if err != nil {
		return nil, err
	}
	stopped := evt.(*dap.StoppedEvent)
	return &types.StoppedInfo{
		Reason:      stopped.Body.Reason,
		ThreadID:    stopped.Body.ThreadId,
		Description: stopped.Body.Description,
		AllStopped:  stopped.Body.AllThreadsStopped,
	}, nil
}

// Threads lists the debuggee's threads.
func (s *Session) Threads() ([]types.Thread, error) {
	raw, err := s.client.Threads(s.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	out := make([]types.Thread, len(raw))
	for i, t := range raw {
		out[i] = types.Thread{ID: t.Id, Name: t.Name}
	}
	return out, nil
}

// StackFrames returns the active thread's frames for the current stop,
// fetching them from the adapter on first use. Legal only from Stopped.
func (s *Session) StackFrames() ([]types.StackFrame, error) {
	if err := s.machine.require("stackTrace", types.StateStopped); err != nil {
		return nil, err
	}
	frames, err := s.framesForCurrentStop()
	if err != nil {
		return nil, err
	}
	return append([]types.StackFrame(nil), frames...), nil
}

// framesForCurrentStop returns the cached frames, fetching once per
// stop.
func (s *Session) framesForCurrentStop() ([]types.StackFrame, error) {
	s.mu.Lock()
	if s.frames != nil {
		frames := s.frames
		s.mu.Unlock()
		return frames, nil
	}
	thread := s.activeThread
	s.mu.Unlock()

	raw, err := s.client.StackTrace(thread, s.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}

	frames := make([]types.StackFrame, len(raw))
	for i, f := range raw {
		frames[i] = types.StackFrame{
			ID:     f.Id,
			Name:   f.Name,
			Line:   f.Line,
			Column: f.Column,
		}
		if f.Source != nil {
			frames[i].Source = f.Source.Path
		}
	}

	s.mu.Lock()
	s.frames = frames
	if s.activeFrame == 0 && len(frames) > 0 {
		s.activeFrame = frames[0].ID
	}
	s.mu.Unlock()
	return frames, nil
}

// ChangeFrame selects the frame evaluation is scoped to. Purely local:
// it validates frameID against the current stop's stack trace (fetching
// it if this is the first frame operation since the stop) and issues no
// other request.
func (s *Session) ChangeFrame(frameID int) (types.StackFrame, error) {
	if err := s.machine.require("changeFrame", types.StateStopped); err != nil {
		return types.StackFrame{}, err
	}

	frames, err := s.framesForCurrentStop()
	if err != nil {
		return types.StackFrame{}, err
	}

	for _, f := range frames {
		if f.ID == frameID {
			s.mu.Lock()
			s.activeFrame = frameID
			s.mu.Unlock()
			return f, nil
		}
	}
	return types.StackFrame{}, errors.NotFound("frame", strconv.Itoa(frameID))
}

// Evaluate evaluates an expression scoped to the active frame. Legal
// from Stopped; additionally legal while Running when the session was
// configured with EvaluateWhileRunning.
func (s *Session) Evaluate(expression string) (types.EvaluateResult, error) {
	state := s.machine.current()
	frameID := 0
	switch {
	case state == types.StateStopped:
		if _, err := s.framesForCurrentStop(); err != nil {
			return types.EvaluateResult{}, err
		}
		s.mu.Lock()
		frameID = s.activeFrame
		s.mu.Unlock()
	case state == types.StateRunning && s.opts.EvaluateWhileRunning:
		// Evaluated without frame scope; the adapter picks a context.
	default:
		return types.EvaluateResult{}, errors.State("evaluate", string(state))
	}

	body, err := s.client.Evaluate(expression, frameID, s.opts.RequestTimeout)
	if err != nil {
		return types.EvaluateResult{}, err
	}
	return types.EvaluateResult{
		Result:             body.Result,
		Type:               body.Type,
		VariablesReference: body.VariablesReference,
	}, nil
}

// --- Teardown ---

// Terminate ends the session: a disconnect request is sent (legal from
// any non-terminal state), then the stream and adapter process are torn
// down regardless of whether the adapter answered.
func (s *Session) Terminate() error {
	current := s.machine.current()
	if current == types.StateTerminated {
		return errors.State("terminate", string(current))
	}
	if err := s.machine.transition(types.StateTerminating); err != nil {
		return err
	}

	if err := s.client.Disconnect(s.opts.TerminateDebuggee, s.opts.RequestTimeout); err != nil {
		// The adapter may already be gone; teardown proceeds either way.
		log.Printf("dap: disconnect during terminate: %v", err)
	}

	if err := s.client.Close(); err != nil {
		log.Printf("dap: closing transport: %v", err)
	}
	s.reapProcess()
	s.machine.forceTerminated()
	return nil
}
