package dap

import (
	"sync"
	"testing"

	godap "github.com/google/go-dap"
)

// TestTransportRoundTrip verifies a framed message survives encode and
// decode, including a body whose byte length differs from its rune
// count.
func TestTransportRoundTrip(t *testing.T) {
	transport, fa := newFakeAdapter(t)
	defer transport.Close()

	req := &godap.EvaluateRequest{
		Request: godap.Request{
			ProtocolMessage: godap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "evaluate",
		},
		Arguments: godap.EvaluateArguments{
			// Multi-byte UTF-8: Content-Length counts bytes, not runes.
			Expression: "len(\"héllo wörld\") + len(\"日本語\")",
			FrameId:    7,
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := fa.read()
		got, ok := msg.(*godap.EvaluateRequest)
		if !ok {
			t.Errorf("decoded %T, want *EvaluateRequest", msg)
			return
		}
		if got.Arguments.Expression != req.Arguments.Expression {
			t.Errorf("expression = %q, want %q", got.Arguments.Expression, req.Arguments.Expression)
		}
		if got.Arguments.FrameId != 7 {
			t.Errorf("frameId = %d, want 7", got.Arguments.FrameId)
		}
	}()

	if err := transport.Send(req); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	<-done
}

// TestTransportNextSeq verifies seq allocation is strictly increasing
// and never reused under concurrency.
func TestTransportNextSeq(t *testing.T) {
	transport, _ := newFakeAdapter(t)
	defer transport.Close()

	const n = 100
	var mu sync.Mutex
	seen := make(map[int]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq := transport.NextSeq()
			mu.Lock()
			defer mu.Unlock()
			if seen[seq] {
				t.Errorf("seq %d allocated twice", seq)
			}
			seen[seq] = true
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("allocated %d distinct seqs, want %d", len(seen), n)
	}
}

// TestTransportReceiveEOF verifies a closed stream surfaces as an error
// from Receive rather than a partial message.
func TestTransportReceiveEOF(t *testing.T) {
	transport, fa := newFakeAdapter(t)
	defer transport.Close()

	fa.close()

	if _, err := transport.Receive(); err == nil {
		t.Fatal("Receive on closed stream succeeded, want error")
	}
}
