// Package client is a minimal blocking wire client over internal/protocol,
// used by cmd/persistctl and by dispatch's own integration tests.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/edirooss/persistd/internal/protocol"
)

// maxLineBytes mirrors protocol.DefaultMaxLineBytes: the client must be
// able to read whatever the daemon is willing to write.
const maxLineBytes = protocol.DefaultMaxLineBytes

// Client is a single connection to a persistd daemon's Unix socket.
type Client struct {
	conn net.Conn
	sc   *bufio.Scanner

	mu sync.Mutex
	w  *bufio.Writer
}

// rawEnvelope is the wire shape of both requests and responses, kept
// generic here so the client can defer decoding Data until the caller
// knows which variant's payload shape to expect.
type rawEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Dial connects to the daemon's socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	return &Client{conn: conn, sc: sc, w: bufio.NewWriter(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) writeEnvelope(typ string, data any) error {
	b, err := json.Marshal(rawEnvelope{Type: typ, Data: marshalOrNil(data)})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.w.Write(b); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

func marshalOrNil(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}

func (c *Client) readResponse() (rawEnvelope, error) {
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return rawEnvelope{}, err
		}
		return rawEnvelope{}, fmt.Errorf("connection closed")
	}

	var env rawEnvelope
	if err := json.Unmarshal(c.sc.Bytes(), &env); err != nil {
		return rawEnvelope{}, fmt.Errorf("decode response: %w", err)
	}
	return env, nil
}

// call writes one request envelope and reads back one response line,
// decoding Data into dst (which may be nil to discard it). Not suitable
// for the `logs` variant with stream=true, which yields multiple response
// lines — use Logs for that.
func (c *Client) call(typ string, req, dst any) error {
	if err := c.writeEnvelope(typ, req); err != nil {
		return err
	}

	env, err := c.readResponse()
	if err != nil {
		return err
	}
	if env.Type == "error" {
		var msg string
		_ = json.Unmarshal(env.Data, &msg)
		return fmt.Errorf("daemon error: %s", msg)
	}
	if dst == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, dst)
}

// List requests the current process list.
func (c *Client) List() ([]protocol.ProcessMetrics, error) {
	var out []protocol.ProcessMetrics
	err := c.call(protocol.TypeList, nil, &out)
	return out, err
}

// Start requests a new child be spawned.
func (c *Client) Start(req protocol.StartRequest) (protocol.ProcessView, error) {
	var out protocol.ProcessView
	err := c.call(protocol.TypeStart, req, &out)
	return out, err
}

// Stop requests one or more children be stopped. filters == nil means all.
func (c *Client) Stop(filters *[]string) ([]protocol.ItemResult, error) {
	var out []protocol.ItemResult
	err := c.call(protocol.TypeStop, protocol.FilterRequest{Filters: filters}, &out)
	return out, err
}

// Restart requests one or more children be restarted.
func (c *Client) Restart(req protocol.RestartRequest) ([]protocol.ItemResult, error) {
	var out []protocol.ItemResult
	err := c.call(protocol.TypeRestart, req, &out)
	return out, err
}

// Info requests a snapshot of one or more named children.
func (c *Client) Info(filters *[]string) ([]protocol.ItemResult, error) {
	var out []protocol.ItemResult
	err := c.call(protocol.TypeInfo, protocol.FilterRequest{Filters: filters}, &out)
	return out, err
}

// Delete requests one or more children be removed from the registry.
func (c *Client) Delete(filters *[]string) ([]protocol.ItemResult, error) {
	var out []protocol.ItemResult
	err := c.call(protocol.TypeDelete, protocol.FilterRequest{Filters: filters}, &out)
	return out, err
}

// Dump requests a snapshot of specs.
func (c *Client) Dump(filters *[]string) ([]protocol.ProcessSpec, error) {
	var out []protocol.ProcessSpec
	err := c.call(protocol.TypeDump, protocol.FilterRequest{Filters: filters}, &out)
	return out, err
}

// Restore requests a batch of specs be (re)started.
func (c *Client) Restore(specs []protocol.ProcessSpec) ([]protocol.ItemResult, error) {
	var out []protocol.ItemResult
	err := c.call(protocol.TypeRestore, protocol.RestoreRequest{Specs: specs}, &out)
	return out, err
}

// Prune requests orphaned files be garbage-collected.
func (c *Client) Prune(stopped bool) ([]string, error) {
	var out []string
	err := c.call(protocol.TypePrune, protocol.PruneRequest{Stopped: stopped}, &out)
	return out, err
}

// Version requests the daemon's version info.
func (c *Client) Version() (protocol.VersionResponseData, error) {
	var out protocol.VersionResponseData
	err := c.call(protocol.TypeVersion, nil, &out)
	return out, err
}

// Kill requests the daemon terminate itself; the daemon never responds, so
// this only flushes the request and returns.
func (c *Client) Kill() error { return c.writeEnvelope(protocol.TypeKill, nil) }

// Logs issues a `logs` request and streams every response line to fn until
// the stream ends (unsubscribed) or fn returns an error. For stream=false
// requests this naturally terminates after the history replay.
func (c *Client) Logs(req protocol.LogsRequest, fn func(protocol.LogsResponseData) error) error {
	if err := c.writeEnvelope(protocol.TypeLogs, req); err != nil {
		return err
	}

	for {
		env, err := c.readResponse()
		if err != nil {
			return err
		}
		if env.Type == "error" {
			var msg string
			_ = json.Unmarshal(env.Data, &msg)
			return fmt.Errorf("daemon error: %s", msg)
		}

		var data protocol.LogsResponseData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("decode logs response: %w", err)
		}
		if err := fn(data); err != nil {
			return err
		}
		if data.Kind == protocol.LogsUnsubscribed {
			return nil
		}
	}
}
