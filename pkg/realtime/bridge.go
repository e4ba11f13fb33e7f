package realtime

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/owasp/nest/pkg/log"
)

var logger = log.ForService("realtime")

// ErrBridgeInUse is returned by Bridge.Start when another process is
// already serving events on the socket.
var ErrBridgeInUse = errors.New("realtime: event socket in use")

const heartbeatInterval = 30 * time.Second

// frame is one line of the bridge protocol. Type is "index" for index
// events and "heartbeat" otherwise.
type frame struct {
	Type  string      `json:"type"`
	Event *IndexEvent `json:"event,omitempty"`
	TS    time.Time   `json:"ts,omitempty"`
}

// Bridge publishes index events to other processes over a Unix domain
// socket, one JSON object per line. A sync running in its own process uses
// it so a running web server can refresh its live sessions.
//
// Writes are best effort: a consumer that cannot keep up is disconnected.
// Inbound data is ignored.
type Bridge struct {
	path string

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	running bool

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewBridge(path string) *Bridge {
	return &Bridge{
		path:   path,
		conns:  make(map[net.Conn]struct{}),
		stopCh: make(chan struct{}),
	}
}

// Start listens on the socket path, replacing a stale socket file left by a
// process that died.
func (b *Bridge) Start() error {
	var err error
	b.startOnce.Do(func() {
		if b.path == "" {
			err = errors.New("realtime: event socket path is empty")
			return
		}

		if st, statErr := os.Stat(b.path); statErr == nil && !st.IsDir() {
			if conn, dialErr := net.DialTimeout("unix", b.path, time.Second); dialErr == nil {
				conn.Close()
				err = ErrBridgeInUse
				return
			}
			_ = os.Remove(b.path)
		}

		ln, listenErr := net.Listen("unix", b.path)
		if listenErr != nil {
			err = fmt.Errorf("listen on unix socket %s: %w", b.path, listenErr)
			return
		}
		_ = os.Chmod(b.path, 0660)

		b.mu.Lock()
		b.ln = ln
		b.running = true
		b.mu.Unlock()

		go b.acceptLoop()
		go b.heartbeatLoop()
	})
	return err
}

func (b *Bridge) acceptLoop() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			select {
			case <-b.stopCh:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			logger.Debugf("event bridge stopped accepting: %v", err)
			return
		}

		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()
		logger.Debugf("event consumer connected")

		go b.drain(conn)
	}
}

// drain discards inbound data until the consumer goes away.
func (b *Bridge) drain(c net.Conn) {
	sc := bufio.NewScanner(c)
	for sc.Scan() {
	}
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
	_ = c.Close()
}

func (b *Bridge) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case now := <-ticker.C:
			b.broadcast(frame{Type: "heartbeat", TS: now.UTC()})
		}
	}
}

// Publish sends ev to every connected consumer. It never blocks for longer
// than the write deadline.
func (b *Bridge) Publish(ev IndexEvent) {
	b.broadcast(frame{Type: "index", Event: &ev})
}

func (b *Bridge) broadcast(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	data = append(data, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	for c := range b.conns {
		_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if _, err := c.Write(data); err != nil {
			_ = c.Close()
			delete(b.conns, c)
			continue
		}
		_ = c.SetWriteDeadline(time.Time{})
	}
}

// Consumers returns the number of connected consumers.
func (b *Bridge) Consumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close stops the bridge, disconnects every consumer and removes the socket
// file. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.ln != nil {
			_ = b.ln.Close()
			_ = os.Remove(b.path)
		}
		for c := range b.conns {
			_ = c.Close()
		}
		b.conns = make(map[net.Conn]struct{})
		b.running = false
	})
	return nil
}
