package dap

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/ctagard/dap-engine/internal/errors"
)

const (
	// DefaultRequestTimeout bounds how long a caller waits for a response.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultEventGrace is how long an unclaimed event is retained to
	// absorb the race between "register waiter" and "event already in
	// flight". Events older than this are dropped.
	DefaultEventGrace = 250 * time.Millisecond

	// maxEventBacklog caps retained unclaimed events.
	maxEventBacklog = 64
)

// EventPredicate selects events a waiter is interested in.
type EventPredicate func(dap.EventMessage) bool

// EventNamed matches events by name.
func EventNamed(name string) EventPredicate {
	return func(e dap.EventMessage) bool {
		return e.GetEvent().Event == name
	}
}

// StoppedWithReason matches stopped events with the given reason,
// or any stopped event when reason is empty.
func StoppedWithReason(reason string) EventPredicate {
	return func(e dap.EventMessage) bool {
		stopped, ok := e.(*dap.StoppedEvent)
		if !ok {
			return false
		}
		return reason == "" || stopped.Body.Reason == reason
	}
}

// eventWaiter is one registered consumer of a future event. Each waiter
// receives at most one event; delivery removes it.
type eventWaiter struct {
	pred EventPredicate
	ch   chan dap.EventMessage
}

// queuedEvent is an unclaimed event held for the grace window.
type queuedEvent struct {
	msg dap.EventMessage
	at  time.Time
}

// Client multiplexes requests, responses and events over one Transport.
//
// A single reader goroutine decodes every incoming frame and classifies
// it: responses resolve the pending request with the matching
// request_seq, events go to the first registered waiter whose predicate
// matches (in waiter registration order, one event per waiter). Having
// one classifier guarantees a single total order for response matching
// and event delivery without further locking of the dispatch decision.
//
// Any number of goroutines may have requests outstanding concurrently;
// each one blocks on its own completion channel until the response
// arrives, its timeout elapses, or the session dies.
type Client struct {
	transport *Transport

	mu      sync.Mutex
	pending map[int]chan dap.ResponseMessage
	waiters []*eventWaiter
	backlog []queuedEvent
	dead    bool
	cause   error

	// observer sees every event before waiter dispatch, in arrival
	// order. The session uses it to drive state transitions. Set once,
	// before any traffic.
	observer func(dap.EventMessage)

	// onFatal runs once when the stream dies. Set once, before traffic.
	onFatal func(error)

	eventGrace time.Duration

	done     chan struct{}
	doneOnce sync.Once
	readerWG sync.WaitGroup

	capabilities dap.Capabilities
	capsMu       sync.RWMutex
}

// NewClient creates a client over the given transport and starts its
// reader goroutine.
func NewClient(transport *Transport) *Client {
	c := &Client{
		transport:  transport,
		pending:    make(map[int]chan dap.ResponseMessage),
		eventGrace: DefaultEventGrace,
		done:       make(chan struct{}),
	}
	c.readerWG.Add(1)
	go c.readLoop()
	return c
}

// SetEventObserver installs the hook that sees every incoming event in
// arrival order, ahead of waiter dispatch. Must be called before the
// first request is sent.
func (c *Client) SetEventObserver(fn func(dap.EventMessage)) {
	c.observer = fn
}

// SetFatalHandler installs the hook invoked once when the stream dies.
// Must be called before the first request is sent.
func (c *Client) SetFatalHandler(fn func(error)) {
	c.onFatal = fn
}

// Capabilities returns the adapter capabilities from the initialize
// response. Zero value until Initialize has completed.
func (c *Client) Capabilities() dap.Capabilities {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.capabilities
}

// readLoop is the session's sole frame classifier. It runs until the
// stream yields an error; every receive failure is fatal (a misframed
// stream cannot be resynchronized) and tears down all pending work.
func (c *Client) readLoop() {
	defer c.readerWG.Done()

	for {
		msg, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.done:
				// Deliberate shutdown; the Close path already settled
				// pending work.
				return
			default:
			}
			if err == io.EOF {
				err = errors.Transport("read", io.ErrUnexpectedEOF)
			}
			c.fail(err)
			return
		}
		c.dispatch(msg)
	}
}

// dispatch classifies one decoded frame.
func (c *Client) dispatch(msg dap.Message) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		c.resolve(m)
	case dap.EventMessage:
		if c.observer != nil {
			c.observer(m)
		}
		c.deliverEvent(m)
	default:
		// Reverse requests (runInTerminal and friends) are not part of
		// this engine's surface.
		log.Printf("dap: ignoring unsupported incoming message %T", msg)
	}
}

// resolve hands a response to the caller waiting on its request_seq.
// A response for an unknown seq is logged and dropped: the caller may
// have timed out locally while the adapter still answered.
func (c *Client) resolve(resp dap.ResponseMessage) {
	seq := resp.GetResponse().RequestSeq

	c.mu.Lock()
	ch, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.mu.Unlock()

	if !ok {
		log.Printf("dap: dropping late response for request_seq %d (%s)",
			seq, resp.GetResponse().Command)
		return
	}
	ch <- resp
}

// deliverEvent gives the event to the first matching waiter in
// registration order, or retains it briefly for a waiter that is about
// to register. An event is delivered to at most one waiter.
func (c *Client) deliverEvent(evt dap.EventMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waiters {
		if w.pred(evt) {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			w.ch <- evt
			return
		}
	}

	c.pruneBacklogLocked(time.Now())
	if len(c.backlog) >= maxEventBacklog {
		dropped := c.backlog[0]
		c.backlog = c.backlog[1:]
		log.Printf("dap: dropping unclaimed %q event (backlog full)",
			dropped.msg.GetEvent().Event)
	}
	c.backlog = append(c.backlog, queuedEvent{msg: evt, at: time.Now()})
}

// pruneBacklogLocked drops events older than the grace window.
func (c *Client) pruneBacklogLocked(now time.Time) {
	keep := c.backlog[:0]
	for _, q := range c.backlog {
		if now.Sub(q.at) <= c.eventGrace {
			keep = append(keep, q)
		}
	}
	c.backlog = keep
}

// WaitEvent blocks until an event matching pred arrives, consuming it.
// Events that arrived within the grace window before registration are
// considered first, in their original arrival order.
func (c *Client) WaitEvent(pred EventPredicate, timeout time.Duration) (dap.EventMessage, error) {
	c.mu.Lock()
	if c.dead {
		cause := c.cause
		c.mu.Unlock()
		return nil, errors.Terminated(terminationReason(cause))
	}

	c.pruneBacklogLocked(time.Now())
	for i, q := range c.backlog {
		if pred(q.msg) {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			c.mu.Unlock()
			return q.msg, nil
		}
	}

	w := &eventWaiter{pred: pred, ch: make(chan dap.EventMessage, 1)}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt := <-w.ch:
		return evt, nil
	case <-timer.C:
		c.removeWaiter(w)
		// The event may have raced the timer.
		select {
		case evt := <-w.ch:
			return evt, nil
		default:
		}
		return nil, errors.Timeout("event wait", timeout)
	case <-c.done:
		c.removeWaiter(w)
		return nil, errors.Terminated(terminationReason(c.Err()))
	}
}

func (c *Client) removeWaiter(w *eventWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cand := range c.waiters {
		if cand == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// SendRequest allocates the next seq, registers the pending entry,
// writes the framed request, and blocks until the matching response
// arrives, the timeout elapses, or the session dies. Exactly one of
// those settles the call.
//
// Responses with success=false resolve as a REQUEST_FAILED error
// carrying the adapter's message; the concrete response type is still
// returned for callers that want the error body.
func (c *Client) SendRequest(req dap.RequestMessage, timeout time.Duration) (dap.ResponseMessage, error) {
	ch, seq, err := c.register(req)
	if err != nil {
		return nil, err
	}

	if err := c.transport.Send(req); err != nil {
		c.unregister(seq)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return checkResponse(resp, req.GetRequest().Command)
	case <-timer.C:
		c.unregister(seq)
		return nil, errors.Timeout(req.GetRequest().Command, timeout)
	case <-c.done:
		c.unregister(seq)
		return nil, errors.Terminated(terminationReason(c.Err()))
	}
}

// SendRequestAsync writes the request and returns the channel its
// response will arrive on, without waiting. Used for launch, whose
// response some adapters defer until after configurationDone.
func (c *Client) SendRequestAsync(req dap.RequestMessage) (<-chan dap.ResponseMessage, error) {
	ch, seq, err := c.register(req)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(req); err != nil {
		c.unregister(seq)
		return nil, err
	}
	return ch, nil
}

// AwaitResponse collects a response from a SendRequestAsync channel.
func (c *Client) AwaitResponse(ch <-chan dap.ResponseMessage, command string, timeout time.Duration) (dap.ResponseMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return checkResponse(resp, command)
	case <-timer.C:
		return nil, errors.Timeout(command, timeout)
	case <-c.done:
		return nil, errors.Terminated(terminationReason(c.Err()))
	}
}

// register assigns a seq to the request and records the pending entry.
func (c *Client) register(req dap.RequestMessage) (chan dap.ResponseMessage, int, error) {
	seq := c.transport.NextSeq()
	r := req.GetRequest()
	r.Seq = seq
	r.Type = "request"

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return nil, 0, errors.Terminated(terminationReason(c.cause))
	}
	ch := make(chan dap.ResponseMessage, 1)
	c.pending[seq] = ch
	return ch, seq, nil
}

// unregister purges a pending entry after local timeout or write
// failure. A response arriving later for this seq is dropped.
func (c *Client) unregister(seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, seq)
}

// checkResponse converts an unsuccessful response into a typed error.
func checkResponse(resp dap.ResponseMessage, command string) (dap.ResponseMessage, error) {
	r := resp.GetResponse()
	if !r.Success {
		msg := r.Message
		if errResp, ok := resp.(*dap.ErrorResponse); ok && errResp.Body.Error != nil {
			msg = errResp.Body.Error.Format
		}
		if msg == "" {
			msg = "adapter reported failure"
		}
		return resp, errors.RequestFailed(command, msg)
	}
	return resp, nil
}

// fail settles every pending request and waiter after a fatal stream
// error, then reports it upward. Runs at most once.
func (c *Client) fail(cause error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.dead = true
		c.cause = cause
		pending := c.pending
		c.pending = make(map[int]chan dap.ResponseMessage)
		waiters := c.waiters
		c.waiters = nil
		c.backlog = nil
		c.mu.Unlock()

		close(c.done)

		if len(pending) > 0 {
			log.Printf("dap: failing %d pending request(s): %v", len(pending), cause)
		}
		// Waiters are woken by the closed done channel; clearing the
		// list just stops future deliveries.
		if len(waiters) > 0 {
			log.Printf("dap: failing %d event waiter(s)", len(waiters))
		}

		if c.onFatal != nil {
			c.onFatal(cause)
		}
	})
}

// Err returns the fatal error that killed the stream, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Close tears the client down deliberately: pending work is settled
// with a termination error and the transport is closed.
func (c *Client) Close() error {
	c.fail(nil)
	err := c.transport.Close()
	c.readerWG.Wait()
	return err
}

func terminationReason(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// --- Typed request surface ---

// Initialize performs the initialize request and caches the advertised
// adapter capabilities.
func (c *Client) Initialize(clientID, clientName string, timeout time.Duration) (dap.Capabilities, error) {
	req := &dap.InitializeRequest{
		Request: dap.Request{Command: "initialize"},
		Arguments: dap.InitializeRequestArguments{
			ClientID:        clientID,
			ClientName:      clientName,
			AdapterID:       clientID,
			Locale:          "en-US",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	}

	resp, err := c.SendRequest(req, timeout)
	if err != nil {
		return dap.Capabilities{}, err
	}
	initResp, ok := resp.(*dap.InitializeResponse)
	if !ok {
		return dap.Capabilities{}, errors.Protocol(fmt.Sprintf("initialize answered with %T", resp))
	}

	c.capsMu.Lock()
	c.capabilities = initResp.Body
	c.capsMu.Unlock()
	return initResp.Body, nil
}

// LaunchAsync issues the launch request without waiting: adapters like
// debugpy hold the launch response until configurationDone.
func (c *Client) LaunchAsync(args map[string]interface{}) (<-chan dap.ResponseMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal launch args: %w", err)
	}
	req := &dap.LaunchRequest{
		Request:   dap.Request{Command: "launch"},
		Arguments: raw,
	}
	return c.SendRequestAsync(req)
}

// ConfigurationDone signals the end of breakpoint configuration.
func (c *Client) ConfigurationDone(timeout time.Duration) error {
	req := &dap.ConfigurationDoneRequest{
		Request: dap.Request{Command: "configurationDone"},
	}
	_, err := c.SendRequest(req, timeout)
	return err
}

// SetBreakpoints replaces the complete breakpoint set for one source.
func (c *Client) SetBreakpoints(source dap.Source, bps []dap.SourceBreakpoint, timeout time.Duration) ([]dap.Breakpoint, error) {
	req := &dap.SetBreakpointsRequest{
		Request: dap.Request{Command: "setBreakpoints"},
		Arguments: dap.SetBreakpointsArguments{
			Source:      source,
			Breakpoints: bps,
		},
	}
	resp, err := c.SendRequest(req, timeout)
	if err != nil {
		return nil, err
	}
	bpResp, ok := resp.(*dap.SetBreakpointsResponse)
	if !ok {
		return nil, errors.Protocol(fmt.Sprintf("setBreakpoints answered with %T", resp))
	}
	return bpResp.Body.Breakpoints, nil
}

// Continue resumes the given thread.
func (c *Client) Continue(threadID int, timeout time.Duration) error {
	req := &dap.ContinueRequest{
		Request:   dap.Request{Command: "continue"},
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}
	_, err := c.SendRequest(req, timeout)
	return err
}

// Next steps over the current line.
func (c *Client) Next(threadID int, timeout time.Duration) error {
	req := &dap.NextRequest{
		Request:   dap.Request{Command: "next"},
		Arguments: dap.NextArguments{ThreadId: threadID},
	}
	_, err := c.SendRequest(req, timeout)
	return err
}

// StepIn steps into the call on the current line.
func (c *Client) StepIn(threadID int, timeout time.Duration) error {
	req := &dap.StepInRequest{
		Request:   dap.Request{Command: "stepIn"},
		Arguments: dap.StepInArguments{ThreadId: threadID},
	}
	_, err := c.SendRequest(req, timeout)
	return err
}

// StepOut steps out of the current function.
func (c *Client) StepOut(threadID int, timeout time.Duration) error {
	req := &dap.StepOutRequest{
		Request:   dap.Request{Command: "stepOut"},
		Arguments: dap.StepOutArguments{ThreadId: threadID},
	}
	_, err := c.SendRequest(req, timeout)
	return err
}

// Threads fetches the debuggee's threads.
func (c *Client) Threads(timeout time.Duration) ([]dap.Thread, error) {
	req := &dap.ThreadsRequest{
		Request: dap.Request{Command: "threads"},
	}
	resp, err := c.SendRequest(req, timeout)
	if err != nil {
		return nil, err
	}
	thResp, ok := resp.(*dap.ThreadsResponse)
	if !ok {
		return nil, errors.Protocol(fmt.Sprintf("threads answered with %T", resp))
	}
	return thResp.Body.Threads, nil
}

// StackTrace fetches stack frames for a thread.
func (c *Client) StackTrace(threadID int, timeout time.Duration) ([]dap.StackFrame, error) {
	req := &dap.StackTraceRequest{
		Request:   dap.Request{Command: "stackTrace"},
		Arguments: dap.StackTraceArguments{ThreadId: threadID},
	}
	resp, err := c.SendRequest(req, timeout)
	if err != nil {
		return nil, err
	}
	stResp, ok := resp.(*dap.StackTraceResponse)
	if !ok {
		return nil, errors.Protocol(fmt.Sprintf("stackTrace answered with %T", resp))
	}
	return stResp.Body.StackFrames, nil
}

// Evaluate evaluates an expression scoped to a frame.
func (c *Client) Evaluate(expression string, frameID int, timeout time.Duration) (*dap.EvaluateResponseBody, error) {
	req := &dap.EvaluateRequest{
		Request: dap.Request{Command: "evaluate"},
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    "repl",
		},
	}
	resp, err := c.SendRequest(req, timeout)
	if err != nil {
		return nil, err
	}
	evResp, ok := resp.(*dap.EvaluateResponse)
	if !ok {
		return nil, errors.Protocol(fmt.Sprintf("evaluate answered with %T", resp))
	}
	return &evResp.Body, nil
}

// Disconnect asks the adapter to end the session.
func (c *Client) Disconnect(terminateDebuggee bool, timeout time.Duration) error {
	req := &dap.DisconnectRequest{
		Request:   dap.Request{Command: "disconnect"},
		Arguments: &dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
	}
	_, err := c.SendRequest(req, timeout)
	return err
}
