package eventbus

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/tthsd/tthsd/internal/utils"
)

// TCPSink delivers events as newline-delimited JSON objects over a raw TCP
// socket (spec §4.F, §6), with the same reconnect-with-backoff behavior as
// WebSocketSink.
type TCPSink struct {
	addr string

	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	backoff time.Duration
}

const (
	tcpMinBackoff = 500 * time.Millisecond
	tcpMaxBackoff = 30 * time.Second
)

func NewTCPSink(addr string) *TCPSink {
	return &TCPSink{addr: addr, backoff: tcpMinBackoff}
}

func (t *TCPSink) Send(e Event) error {
	body, err := e.marshalEnvelope()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if err := t.dialLocked(); err != nil {
			return err
		}
	}

	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := t.writer.Write(body); err != nil {
		return t.failLocked(err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return t.failLocked(err)
	}
	if err := t.writer.Flush(); err != nil {
		return t.failLocked(err)
	}
	t.backoff = tcpMinBackoff
	return nil
}

func (t *TCPSink) failLocked(err error) error {
	utils.Debug("eventbus tcp: write failed, will redial: %v", err)
	t.conn.Close()
	t.conn = nil
	t.writer = nil
	return err
}

func (t *TCPSink) dialLocked() error {
	conn, err := net.DialTimeout("tcp", t.addr, 10*time.Second)
	if err != nil {
		utils.Debug("eventbus tcp: dial %s failed, backing off %v: %v", t.addr, t.backoff, err)
		time.Sleep(t.backoff)
		t.backoff = min(t.backoff*2, tcpMaxBackoff)
		return err
	}
	t.conn = conn
	t.writer = bufio.NewWriter(conn)
	t.backoff = tcpMinBackoff
	return nil
}

func (t *TCPSink) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
