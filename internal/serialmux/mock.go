package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// EchoPort is an in-memory actuator used with -dev. Every complete line
// written to it is answered with "ACK <line>".
type EchoPort struct {
	mu      sync.Mutex
	partial []byte
	written bytes.Buffer
	replies chan []byte
	done    chan struct{}
	once    sync.Once

	// pending is only touched by the single reading goroutine
	pending []byte
}

// NewEchoPort returns an open EchoPort.
func NewEchoPort() *EchoPort {
	return &EchoPort{
		replies: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// Read blocks until a reply is queued or the port is closed.
func (p *EchoPort) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		select {
		case r := <-p.replies:
			p.pending = r
		case <-p.done:
			return 0, io.EOF
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write records the bytes and queues an acknowledgement per finished line.
// Replies are dropped when nobody is reading.
func (p *EchoPort) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errPortClosed
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.written.Write(b)
	p.partial = append(p.partial, b...)
	for {
		i := bytes.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(p.partial[:i])
		p.partial = p.partial[i+1:]
		reply := append([]byte("ACK "), line...)
		select {
		case p.replies <- append(reply, '\n'):
		default:
		}
	}
	return len(b), nil
}

// Written returns everything written so far.
func (p *EchoPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Close unblocks readers. It is safe to call more than once.
func (p *EchoPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// NewMockSerialMux creates a SerialMux backed by an EchoPort.
func NewMockSerialMux() *SerialMux[*EchoPort] {
	return NewSerialMux(NewEchoPort())
}

// MockOpener connects a Link to a fresh EchoPort on every Connect.
func MockOpener() Opener {
	return func() (SerialMuxInterface, error) {
		return NewMockSerialMux(), nil
	}
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Mode *SerialPortMode
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Mode: mode})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
