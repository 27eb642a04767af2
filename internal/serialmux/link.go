package serialmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Opener produces a connected mux. Link calls it on every Connect.
type Opener func() (SerialMuxInterface, error)

// FactoryOpener opens path through f and discards whatever the port buffered
// before the connection.
func FactoryOpener(f SerialPortFactory, path string, opts PortOptions) Opener {
	return func() (SerialMuxInterface, error) {
		mode, err := opts.PortMode()
		if err != nil {
			return nil, err
		}
		port, err := f.Open(path, mode)
		if err != nil {
			return nil, err
		}
		if r, ok := port.(bufferResetter); ok {
			if err := r.ResetInputBuffer(); err != nil {
				logf("failed to discard input buffer on %s: %v", path, err)
			}
			if err := r.ResetOutputBuffer(); err != nil {
				logf("failed to discard output buffer on %s: %v", path, err)
			}
		}
		return NewSerialMux(port), nil
	}
}

// Link is the connection to the actuator. While disconnected it holds a
// DisabledSerialMux, so Mux never returns nil.
type Link struct {
	open   Opener
	cmdLog CommandLog

	mu        sync.Mutex
	mux       SerialMuxInterface
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLink returns a disconnected link. A nil open makes Connect always fail
// with ErrNotConnected; cmdLog may be nil.
func NewLink(open Opener, cmdLog CommandLog) *Link {
	return &Link{
		open:   open,
		cmdLog: cmdLog,
		mux:    NewDisabledSerialMux(),
	}
}

// Connect opens the port and starts reading replies. Replies are read until
// Disconnect or until ctx is done. Connecting an open link is a no-op.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		return nil
	}
	if l.open == nil {
		return ErrNotConnected
	}
	m, err := l.open()
	if err != nil {
		return fmt.Errorf("failed to open actuator port: %w", err)
	}

	old := l.mux
	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	id, lines := m.Subscribe()
	go l.monitor(mctx, m, id, lines, done)

	l.mux, l.connected, l.cancel, l.done = m, true, cancel, done
	old.Close()
	logf("actuator link connected")
	return nil
}

func (l *Link) monitor(ctx context.Context, m SerialMuxInterface, id string, lines chan string, done chan struct{}) {
	defer close(done)
	errc := make(chan error, 1)
	go func() { errc <- m.Monitor(ctx) }()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := HandleReply(ctx, l.cmdLog, line); err != nil {
				logf("%v", err)
			}
		case err := <-errc:
			if err != nil && !errors.Is(err, context.Canceled) {
				logf("actuator monitor stopped: %v", err)
			}
			m.Unsubscribe(id)
			return
		}
	}
}

// Disconnect closes the port. Disconnecting a closed link is a no-op.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	m, cancel, done := l.mux, l.cancel, l.done
	l.mux, l.connected, l.cancel, l.done = NewDisabledSerialMux(), false, nil, nil
	l.mu.Unlock()

	cancel()
	err := m.Close()
	<-done
	logf("actuator link disconnected")
	return err
}

// IsConnected reports whether the port is open.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Mux returns the current mux; a DisabledSerialMux while disconnected.
func (l *Link) Mux() SerialMuxInterface {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mux
}

// SendCommand writes msg to the actuator and records the attempt in the
// command log.
func (l *Link) SendCommand(msg string) error {
	err := l.Mux().SendCommand(msg)
	if l.cmdLog != nil {
		if lerr := l.cmdLog.LogCommand(context.Background(), DirectionTx, msg, err == nil); lerr != nil {
			logf("failed to log actuator command: %v", lerr)
		}
	}
	if err != nil {
		logf("send %q failed: %v", msg, err)
	}
	return err
}

// Send writes msg and reports whether it went out. It returns false when the
// link is not connected or the write failed.
func (l *Link) Send(msg string) bool {
	return l.SendCommand(msg) == nil
}

// Close disconnects the link.
func (l *Link) Close() error {
	return l.Disconnect()
}
