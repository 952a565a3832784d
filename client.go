package msgnet

import (
	"context"
	"net"
	"strconv"
)

// Client pairs a Transceiver with a remembered server address.
type Client struct {
	host string
	port int
	t    *Transceiver
}

// NewClient creates a disconnected client for host:port.
// Returns ErrNilRegistry if registry is nil.
func NewClient(host string, port int, registry *Registry, opts ...Option) (*Client, error) {
	t, err := NewTransceiver(registry, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{host: host, port: port, t: t}, nil
}

// Connect dials the remembered address.
func (c *Client) Connect(ctx context.Context) error {
	return c.t.Connect(ctx, c.host, c.port)
}

// Disconnect closes the connection. Safe to call multiple times.
func (c *Client) Disconnect() {
	c.t.Disconnect()
}

// Send writes messages to the server in order.
func (c *Client) Send(messages ...Message) error {
	return c.t.Send(messages...)
}

// Received returns the queue of messages received from the server.
func (c *Client) Received() *Queue {
	return c.t.Received()
}

// IsDead reports whether the client has no live connection.
func (c *Client) IsDead() bool {
	return c.t.IsDead()
}

// Addr returns the remembered server address as host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Transceiver returns the underlying transceiver.
func (c *Client) Transceiver() *Transceiver {
	return c.t
}
