package dap

import (
	"bufio"
	"net"
	"testing"
	"time"

	godap "github.com/google/go-dap"
)

// fakeAdapter plays the adapter side of an in-memory connection. Tests
// script it: read the engine's requests in order, answer with framed
// responses, and interleave unsolicited events.
type fakeAdapter struct {
	t    *testing.T
	conn net.Conn
	rd   *bufio.Reader
	wr   *bufio.Writer
}

// newFakeAdapter returns a transport for the engine side and the
// scripted adapter for the other end of the pipe.
func newFakeAdapter(t *testing.T) (*Transport, *fakeAdapter) {
	t.Helper()
	engineConn, adapterConn := net.Pipe()
	fa := &fakeAdapter{
		t:    t,
		conn: adapterConn,
		rd:   bufio.NewReader(adapterConn),
		wr:   bufio.NewWriter(adapterConn),
	}
	t.Cleanup(func() { _ = adapterConn.Close() })
	return NewTransport(engineConn), fa
}

// read decodes one frame from the engine, failing the test on timeout.
func (fa *fakeAdapter) read() godap.Message {
	_ = fa.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, err := godap.ReadProtocolMessage(fa.rd)
	if err != nil {
		fa.t.Errorf("fake adapter: read: %v", err)
		return nil
	}
	return msg
}

// expectRequest reads one frame and asserts its command, returning the
// request seq for the response.
func (fa *fakeAdapter) expectRequest(command string) int {
	msg := fa.read()
	if msg == nil {
		return 0
	}
	req, ok := msg.(godap.RequestMessage)
	if !ok {
		fa.t.Errorf("fake adapter: expected %q request, got %T", command, msg)
		return 0
	}
	if got := req.GetRequest().Command; got != command {
		fa.t.Errorf("fake adapter: expected %q request, got %q", command, got)
	}
	return req.GetRequest().Seq
}

// send frames one message to the engine.
func (fa *fakeAdapter) send(msg godap.Message) {
	_ = fa.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := godap.WriteProtocolMessage(fa.wr, msg); err != nil {
		fa.t.Errorf("fake adapter: write: %v", err)
		return
	}
	if err := fa.wr.Flush(); err != nil {
		fa.t.Errorf("fake adapter: flush: %v", err)
	}
}

// response builds the base response fields for a request seq.
func response(requestSeq int, command string) godap.Response {
	return godap.Response{
		ProtocolMessage: godap.ProtocolMessage{Type: "response"},
		RequestSeq:      requestSeq,
		Success:         true,
		Command:         command,
	}
}

func event(name string) godap.Event {
	return godap.Event{
		ProtocolMessage: godap.ProtocolMessage{Type: "event"},
		Event:           name,
	}
}

func (fa *fakeAdapter) sendStopped(reason string, threadID int) {
	fa.send(&godap.StoppedEvent{
		Event: event("stopped"),
		Body: godap.StoppedEventBody{
			Reason:            reason,
			ThreadId:          threadID,
			AllThreadsStopped: true,
		},
	})
}

func (fa *fakeAdapter) close() {
	_ = fa.conn.Close()
}
