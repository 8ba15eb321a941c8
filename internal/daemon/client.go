package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultDialTimeout = 2 * time.Second

// Client talks to the privileged daemon. Calls are serialised; a broken
// connection is redialled on the next call, never retried within one.
type Client struct {
	path    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func NewClient(path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &Client{path: path, timeout: timeout}
}

// Dial connects immediately so callers can fail fast at startup.
func Dial(path string, timeout time.Duration) (*Client, error) {
	c := NewClient(path, timeout)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.path, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

// Do sends one command line and waits for its reply.
func (c *Client) Do(ctx context.Context, line string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connect(); err != nil {
			return Response{}, err
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	c.conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		c.drop()
		return Response{}, fmt.Errorf("send %q: %w", line, err)
	}

	reply, err := c.reader.ReadString('\n')
	if err != nil {
		c.drop()
		return Response{}, fmt.Errorf("read reply to %q: %w", line, err)
	}

	resp, err := ParseResponse(reply)
	if err != nil {
		c.drop()
		return Response{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, line string) (Response, error) {
	resp, err := c.Do(ctx, line)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err()
}

func (c *Client) Unlock(ctx context.Context) error {
	_, err := c.do(ctx, CmdUnlock)
	return err
}

func (c *Client) SetSpeed(ctx context.Context, fan int, rpm float64) error {
	_, err := c.do(ctx, CmdSetFan+" "+strconv.Itoa(fan)+" "+formatRPM(rpm))
	return err
}

// Apply is SetSpeed under the name the policy loop expects.
func (c *Client) Apply(ctx context.Context, fan int, rpm float64) error {
	return c.SetSpeed(ctx, fan, rpm)
}

// MaxFans returns the per-fan part of the reply, e.g. "Fan0=5779 Fan1=6241".
func (c *Client) MaxFans(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, CmdMaxFans)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Message, "MaxFans")), nil
}

func (c *Client) Release(ctx context.Context) error {
	_, err := c.do(ctx, CmdRelease)
	return err
}

func (c *Client) Status(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, CmdStatus)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}
