package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"
)

// Consumer reads index events from a Bridge socket and republishes them,
// reconnecting with exponential backoff when the bridge is not running.
type Consumer struct {
	socketPath     string
	out            Publisher
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewConsumer returns a consumer forwarding the events read from socketPath
// to out.
func NewConsumer(socketPath string, out Publisher) *Consumer {
	return &Consumer{
		socketPath:     socketPath,
		out:            out,
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

// Run connects and forwards events until ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	backoff := c.initialBackoff
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debugf("event bridge not available (%v), retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}

		logger.Infof("Receiving index events from %s", c.socketPath)
		backoff = c.initialBackoff
		c.readLoop(ctx, conn)
		logger.Debugf("event bridge disconnected")

		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) readLoop(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 512*1024)
	for sc.Scan() {
		var f frame
		if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
			continue
		}
		if f.Type != "index" || f.Event == nil {
			continue
		}
		c.out.Publish(*f.Event)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		logger.Warnf("event bridge read error: %v", err)
	}
}
