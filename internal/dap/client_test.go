package dap

import (
	"strings"
	"sync"
	"testing"
	"time"

	godap "github.com/google/go-dap"

	"github.com/ctagard/dap-engine/internal/errors"
)

func newTestClient(t *testing.T) (*Client, *fakeAdapter) {
	t.Helper()
	transport, fa := newFakeAdapter(t)
	c := NewClient(transport)
	t.Cleanup(func() { _ = c.Close() })
	return c, fa
}

func threadsRequest() *godap.ThreadsRequest {
	return &godap.ThreadsRequest{
		Request: godap.Request{Command: "threads"},
	}
}

// TestClientConcurrentRequests verifies that responses arriving out of
// request order still settle the caller whose seq they carry.
func TestClientConcurrentRequests(t *testing.T) {
	c, fa := newTestClient(t)

	const n = 8

	// Collect all requests, then answer them newest-first.
	go func() {
		seqs := make([]int, 0, n)
		for i := 0; i < n; i++ {
			seqs = append(seqs, fa.expectRequest("threads"))
		}
		for i := len(seqs) - 1; i >= 0; i-- {
			fa.send(&godap.ThreadsResponse{
				Response: response(seqs[i], "threads"),
				Body: godap.ThreadsResponseBody{
					Threads: []godap.Thread{{Id: seqs[i], Name: "main"}},
				},
			})
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := threadsRequest()
			resp, err := c.SendRequest(req, 5*time.Second)
			if err != nil {
				t.Errorf("SendRequest failed: %v", err)
				return
			}
			if got := resp.GetResponse().RequestSeq; got != req.Seq {
				t.Errorf("response for seq %d delivered to request seq %d", got, req.Seq)
			}
			// The scripted body echoes the seq, so a cross-delivered
			// response is also visible in the payload.
			body := resp.(*godap.ThreadsResponse).Body
			if len(body.Threads) != 1 || body.Threads[0].Id != req.Seq {
				t.Errorf("payload threads = %+v, want id %d", body.Threads, req.Seq)
			}
		}()
	}
	wg.Wait()
}

// TestClientRequestTimeout verifies a timed-out request is purged, its
// late response is dropped, and the client keeps working.
func TestClientRequestTimeout(t *testing.T) {
	c, fa := newTestClient(t)

	seqCh := make(chan int, 1)
	go func() {
		seqCh <- fa.expectRequest("threads")
	}()

	_, err := c.SendRequest(threadsRequest(), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if code := errors.CodeOf(err); code != errors.CodeTimeout {
		t.Fatalf("error code = %s, want %s", code, errors.CodeTimeout)
	}

	// The adapter answers anyway; the client must drop it and stay
	// usable for the next exchange.
	staleSeq := <-seqCh
	fa.send(&godap.ThreadsResponse{
		Response: response(staleSeq, "threads"),
	})

	go func() {
		seq := fa.expectRequest("threads")
		fa.send(&godap.ThreadsResponse{
			Response: response(seq, "threads"),
			Body: godap.ThreadsResponseBody{
				Threads: []godap.Thread{{Id: 1, Name: "main"}},
			},
		})
	}()

	threads, err := c.Threads(5 * time.Second)
	if err != nil {
		t.Fatalf("request after timeout failed: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("got %d threads, want 1", len(threads))
	}
}

// TestClientRequestFailed verifies success=false responses surface the
// adapter's error message with the REQUEST_FAILED code.
func TestClientRequestFailed(t *testing.T) {
	c, fa := newTestClient(t)

	go func() {
		seq := fa.expectRequest("threads")
		resp := &godap.ErrorResponse{
			Response: response(seq, "threads"),
		}
		resp.Success = false
		resp.Body.Error = &godap.ErrorMessage{Format: "target is not paused"}
		fa.send(resp)
	}()

	_, err := c.SendRequest(threadsRequest(), 5*time.Second)
	if err == nil {
		t.Fatal("expected request failure")
	}
	if code := errors.CodeOf(err); code != errors.CodeRequestFailed {
		t.Fatalf("error code = %s, want %s", code, errors.CodeRequestFailed)
	}
	de := errors.FromError(err)
	if !strings.Contains(de.Message, "target is not paused") {
		t.Fatalf("adapter message not preserved: %q", de.Message)
	}
}

// TestClientEventBacklog verifies an event that arrives moments before
// the waiter registers is still delivered from the grace backlog.
func TestClientEventBacklog(t *testing.T) {
	c, fa := newTestClient(t)

	fa.sendStopped("breakpoint", 3)
	time.Sleep(50 * time.Millisecond)

	evt, err := c.WaitEvent(StoppedWithReason("breakpoint"), time.Second)
	if err != nil {
		t.Fatalf("WaitEvent failed: %v", err)
	}
	if got := evt.(*godap.StoppedEvent).Body.ThreadId; got != 3 {
		t.Fatalf("threadId = %d, want 3", got)
	}
}

// TestClientEventWaiterOrder verifies waiters are served in
// registration order, one event each.
func TestClientEventWaiterOrder(t *testing.T) {
	c, fa := newTestClient(t)

	firstGot := make(chan int, 1)
	secondGot := make(chan int, 1)

	go func() {
		evt, err := c.WaitEvent(StoppedWithReason(""), 5*time.Second)
		if err != nil {
			t.Errorf("first waiter: %v", err)
			return
		}
		firstGot <- evt.(*godap.StoppedEvent).Body.ThreadId
	}()
	// The second waiter must register after the first.
	time.Sleep(50 * time.Millisecond)
	go func() {
		evt, err := c.WaitEvent(StoppedWithReason(""), 5*time.Second)
		if err != nil {
			t.Errorf("second waiter: %v", err)
			return
		}
		secondGot <- evt.(*godap.StoppedEvent).Body.ThreadId
	}()
	time.Sleep(50 * time.Millisecond)

	fa.sendStopped("step", 1)
	fa.sendStopped("step", 2)

	if got := <-firstGot; got != 1 {
		t.Errorf("first waiter got thread %d, want 1", got)
	}
	if got := <-secondGot; got != 2 {
		t.Errorf("second waiter got thread %d, want 2", got)
	}
}

// TestClientUnmatchedEventExpires verifies an event nobody claims is
// dropped after the grace window instead of being held forever.
func TestClientUnmatchedEventExpires(t *testing.T) {
	c, fa := newTestClient(t)
	c.eventGrace = 30 * time.Millisecond

	fa.sendStopped("breakpoint", 1)
	time.Sleep(100 * time.Millisecond)

	_, err := c.WaitEvent(StoppedWithReason(""), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout, expired event was delivered")
	}
	if code := errors.CodeOf(err); code != errors.CodeTimeout {
		t.Fatalf("error code = %s, want %s", code, errors.CodeTimeout)
	}
}

// TestClientStreamDeath verifies that a dying stream settles in-flight
// requests and refuses new ones with a termination error.
func TestClientStreamDeath(t *testing.T) {
	c, fa := newTestClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(threadsRequest(), 5*time.Second)
		errCh <- err
	}()

	// Let the request reach the wire, then kill the stream.
	fa.expectRequest("threads")
	fa.close()

	err := <-errCh
	if err == nil {
		t.Fatal("in-flight request survived stream death")
	}
	if code := errors.CodeOf(err); code != errors.CodeTerminated {
		t.Fatalf("in-flight error code = %s, want %s", code, errors.CodeTerminated)
	}

	// New work is refused immediately.
	_, err = c.SendRequest(threadsRequest(), time.Second)
	if code := errors.CodeOf(err); code != errors.CodeTerminated {
		t.Fatalf("post-death error code = %s, want %s", code, errors.CodeTerminated)
	}
	if _, err := c.WaitEvent(StoppedWithReason(""), time.Second); errors.CodeOf(err) != errors.CodeTerminated {
		t.Fatalf("post-death WaitEvent error = %v, want %s", err, errors.CodeTerminated)
	}
}

// TestClientFatalHandlerRunsOnce verifies the fatal hook fires exactly
// once no matter how the stream dies.
func TestClientFatalHandlerRunsOnce(t *testing.T) {
	transport, fa := newFakeAdapter(t)

	var mu sync.Mutex
	calls := 0
	c := NewClient(transport)
	c.SetFatalHandler(func(error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	fa.close()
	time.Sleep(100 * time.Millisecond)
	_ = c.Close()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("fatal handler ran %d times, want 1", calls)
	}
}
