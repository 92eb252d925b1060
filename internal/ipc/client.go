package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/maxclaw/internal/types"
)

// DefaultCallTimeout bounds one round trip on the control socket.
const DefaultCallTimeout = 30 * time.Second

// Client is a synchronous JSON-RPC client over the daemon socket.
// Calls are serialized; the CLI never pipelines.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	nextID  int64
	timeout time.Duration
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, types.NewTransient(err, "daemon not reachable at %s", socketPath)
	}
	reader := bufio.NewReaderSize(conn, 64*1024)
	return &Client{conn: conn, reader: reader, timeout: DefaultCallTimeout}, nil
}

// SetTimeout overrides the per-call deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Call performs one RPC round trip. A non-nil result is filled from
// the response's result member. Server-side failures come back as
// *Error.
func (c *Client) Call(method string, params interface{}, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	req := Request{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return types.NewValidation("encoding params: %v", err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return types.NewValidation("encoding request: %v", err)
	}

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return types.NewTransient(err, "setting deadline")
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return types.NewTransient(err, "writing request")
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return types.NewTransient(err, "reading response")
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return types.NewOperational(err, "malformed response")
		}
		// Skip unsolicited frames; the daemon only answers what we
		// asked, but stale replies can linger after a timeout.
		if !idMatches(resp.ID, id) {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return types.NewOperational(err, "decoding result")
			}
		}
		return nil
	}
}

// idMatches compares a decoded response id against the numeric request
// id. JSON decodes numbers as float64.
func idMatches(got interface{}, want int64) bool {
	switch v := got.(type) {
	case float64:
		return int64(v) == want
	case string:
		return v == fmt.Sprintf("%d", want)
	default:
		return false
	}
}

// Notify sends a request without an id and expects no response.
func (c *Client) Notify(method string, params interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := Request{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return types.NewValidation("encoding params: %v", err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return types.NewValidation("encoding request: %v", err)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return types.NewTransient(err, "setting deadline")
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return types.NewTransient(err, "writing notification")
	}
	return nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
