package client

import (
	"time"

	"github.com/tickwire/tickwire/pkg/connection"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/transport"
)

// Client binds one connection to one transport. All methods must be
// called from the same goroutine; the poll loop owns the connection.
type Client struct {
	conn      *connection.Conn
	transport transport.Transport
}

// Connect opens a transport-backed client connection to the server
// behind addr and starts the handshake.
func Connect(cfg connection.Config, tr transport.Transport, addr string, counters *metrics.Counters, now time.Time) (*Client, error) {
	if counters == nil {
		counters = metrics.Discard()
	}
	conn, err := connection.NewClient(addr, cfg, tr.Send, counters, now)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, transport: tr}, nil
}

// State returns the connection's current lifecycle state.
func (c *Client) State() connection.State { return c.conn.State() }

// Reason reports why the connection closed, once it has.
func (c *Client) Reason() connection.DisconnectReason { return c.conn.Reason() }

// UserKey returns the slot the server assigned, valid once connected.
func (c *Client) UserKey() protocol.UserKey { return c.conn.UserKey() }

// RTT returns the smoothed round-trip estimate.
func (c *Client) RTT() time.Duration { return c.conn.RTT() }

// CurrentTick returns the server-aligned tick counter.
func (c *Client) CurrentTick() protocol.Tick { return c.conn.CurrentTick() }

// EnqueueSend buffers a message on the given channel. Messages queued
// during the handshake are flushed once the connection is established.
func (c *Client) EnqueueSend(ch protocol.ChannelID, payload []byte) error {
	return c.conn.EnqueueSend(ch, payload)
}

// Disconnect starts a graceful teardown.
func (c *Client) Disconnect(now time.Time) { c.conn.Disconnect(now) }

// PollOnce drains the transport into the connection, then runs one
// connection poll. It never blocks.
func (c *Client) PollOnce(now time.Time) []connection.Event {
	for {
		d, ok := c.transport.Receive()
		if !ok {
			break
		}
		c.conn.HandleDatagram(d.Payload, now)
	}
	return c.conn.PollOnce(now)
}

// Close tears the connection down immediately and releases the
// transport.
func (c *Client) Close() error {
	c.conn.Disconnect(time.Now())
	return c.transport.Close()
}
