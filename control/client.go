package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// DialTimeout bounds how long a client waits to connect to the socket.
const DialTimeout = 5 * time.Second

// Client is a thin request/reply wrapper around one persistent
// connection to a control socket.
type Client struct {
	conn net.Conn
	mu   sync.Mutex
	r    *bufio.Reader
	w    *json.Encoder
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket %s: %w", path, err)
	}
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    json.NewEncoder(conn),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends req and returns the matching decoded reply. Calls on one
// Client are serialized, matching the per-connection sequential protocol.
func (c *Client) Call(req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.w.Encode(req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// Connect requests that a network be brought up.
func (c *Client) Connect(id, network string) (*Response, error) {
	return c.Call(Request{ID: id, Action: ActionConnect, Network: network})
}

// Disconnect requests that a network be brought down.
func (c *Client) Disconnect(id, network string) (*Response, error) {
	return c.Call(Request{ID: id, Action: ActionDisconnect, Network: network})
}

// Status requests a network's current snapshot.
func (c *Client) Status(id, network string) (*Response, error) {
	return c.Call(Request{ID: id, Action: ActionStatus, Network: network})
}
