package conn

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/skv/rpc/wire"
)

var Logger = logger.GetLogger("conn")

var (
	metricConnectionsOpened = metrics.NewCounter("skv_connections_opened_total")
	metricConnectionsClosed = metrics.NewCounter("skv_connections_closed_total")
	metricBytesWritten      = metrics.NewCounter("skv_connection_bytes_written_total")
	metricBytesRead         = metrics.NewCounter("skv_connection_bytes_read_total")
)

// Connection is a single framed connection to a node. It is not safe for
// concurrent use, the pool hands every connection to one caller at a
// time.
type Connection struct {
	conn     net.Conn
	address  string
	timeout  time.Duration
	lastUsed time.Time
	readBuf  []byte
}

// NewConnection dials a node with the given timeout. The timeout also
// becomes the default deadline for subsequent operations until
// SetTimeout changes it.
func NewConnection(address string, timeout time.Duration) (*Connection, error) {
	tcpConn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if tc, ok := tcpConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	metricConnectionsOpened.Inc()
	return &Connection{
		conn:     tcpConn,
		address:  address,
		timeout:  timeout,
		lastUsed: time.Now(),
		readBuf:  make([]byte, 4096),
	}, nil
}

// Address returns the remote address this connection was dialed with
func (c *Connection) Address() string {
	return c.address
}

// SetTimeout sets the deadline applied to every following read and
// write. Zero disables the deadline.
func (c *Connection) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

func (c *Connection) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

// WriteFrame sends one complete frame including its proto header.
func (c *Connection) WriteFrame(frame []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame to %s: %w", c.address, err)
	}
	metricBytesWritten.Add(len(frame))
	c.lastUsed = time.Now()
	return nil
}

// ReadFrame reads the next frame and returns its payload without the
// proto header. The returned slice is owned by the connection and valid
// until the next read.
func (c *Connection) ReadFrame() (wire.ProtoHeader, []byte, error) {
	if err := c.conn.SetReadDeadline(c.deadline()); err != nil {
		return wire.ProtoHeader{}, nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	if _, err := io.ReadFull(c.conn, c.readBuf[:wire.ProtoHeaderSize]); err != nil {
		return wire.ProtoHeader{}, nil, fmt.Errorf("failed to read frame header from %s: %w", c.address, err)
	}
	hdr, err := wire.ParseProtoHeader(c.readBuf[:wire.ProtoHeaderSize])
	if err != nil {
		return wire.ProtoHeader{}, nil, err
	}

	size := int(hdr.Size)
	if size > len(c.readBuf) {
		c.readBuf = make([]byte, size)
	}
	if _, err := io.ReadFull(c.conn, c.readBuf[:size]); err != nil {
		return wire.ProtoHeader{}, nil, fmt.Errorf("failed to read frame payload from %s: %w", c.address, err)
	}
	metricBytesRead.Add(wire.ProtoHeaderSize + size)
	c.lastUsed = time.Now()
	return hdr, c.readBuf[:size], nil
}

// IsIdle reports whether the connection has been unused for longer than
// the given idle timeout.
func (c *Connection) IsIdle(idleTimeout time.Duration) bool {
	return idleTimeout > 0 && time.Since(c.lastUsed) > idleTimeout
}

// Close shuts the connection down. Safe to call more than once.
func (c *Connection) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			Logger.Debugf("Failed to close connection to %s: %v", c.address, err)
		}
		c.conn = nil
		metricConnectionsClosed.Inc()
	}
}
