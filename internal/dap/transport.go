// Package dap implements the protocol engine for driving a Debug Adapter
// Protocol (DAP) server.
//
// The engine is built from a small number of cooperating pieces:
//   - Transport: Content-Length framed message exchange over any duplex
//     byte stream (TCP connection or child-process stdio pipes)
//   - Client: request/response correlation under concurrency plus ordered
//     dispatch of unsolicited adapter events to registered waiters
//   - Session: the state machine sequencing initialization, launch,
//     breakpoint configuration and run/stop cycles, the execution
//     controller, and the adapter process lifecycle
//   - BreakpointStore: per-file ordered breakpoint sets mirrored to the
//     adapter on every change
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"

	"github.com/ctagard/dap-engine/internal/errors"
)

// Transport frames DAP messages over a duplex byte stream. Encoding
// serializes the message to JSON and prepends a header block with the
// body's exact byte length; decoding reads headers up to the blank-line
// terminator and then exactly Content-Length body bytes, looping on
// short reads. Both directions delegate to the go-dap codec.
//
// Writes are serialized by a mutex so that concurrent senders can never
// interleave the header and body bytes of two messages. Reads are only
// ever performed by the session's single reader goroutine.
type Transport struct {
	conn    io.ReadWriteCloser
	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex

	seqMu sync.Mutex
	seq   int
}

// NewTCPTransport creates a transport connected to a TCP address.
func NewTCPTransport(address string) (*Transport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to adapter at %s: %w", address, err)
	}
	return NewTransport(conn), nil
}

// NewStdioTransport creates a transport over a child process's stdio
// pipes: requests go down stdin, frames come back up stdout.
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) *Transport {
	return NewTransport(&pipeRWC{reader: stdout, writer: stdin})
}

// NewTransport creates a transport over an already-open duplex stream.
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		seq:    1,
	}
}

// pipeRWC combines separate read and write halves into one stream.
type pipeRWC struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.writer.Write(b) }

func (p *pipeRWC) Close() error {
	err1 := p.writer.Close()
	err2 := p.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// NextSeq allocates the next request sequence number. Seq values are
// strictly increasing for the lifetime of the transport and never reused.
func (t *Transport) NextSeq() int {
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	seq := t.seq
	t.seq++
	return seq
}

// Send frames and writes one message. The writer lock holds across the
// encode and flush so a message's bytes reach the stream contiguously.
func (t *Transport) Send(msg dap.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return errors.Transport("write", err)
	}
	if err := t.writer.Flush(); err != nil {
		return errors.Transport("flush", err)
	}
	return nil
}

// Receive blocks until one complete frame has been read and decoded.
// Any failure here is fatal for the session: a stream that has lost
// frame alignment cannot be resynchronized.
func (t *Transport) Receive() (dap.Message, error) {
	msg, err := dap.ReadProtocolMessage(t.reader)
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Transport("read", err)
	}
	return msg, nil
}

// Close closes the underlying stream.
func (t *Transport) Close() error {
	return t.conn.Close()
}
