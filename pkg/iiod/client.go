// Package iiod is a client for the text protocol spoken by the Linux IIO
// daemon. It covers what a transmitter needs: attribute reads and writes and
// output buffers.
package iiod

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultPort is the TCP port iiod listens on.
const DefaultPort = 30431

const defaultTimeout = 5 * time.Second

// ErrProtocol is returned when the daemon's reply cannot be parsed.
var ErrProtocol = errors.New("iiod protocol error")

// Error is a negative status returned by the daemon.
type Error struct {
	Cmd  string
	Code syscall.Errno
}

func (e *Error) Error() string {
	return fmt.Sprintf("iiod %s: %v", e.Cmd, e.Code)
}

func (e *Error) Unwrap() error { return e.Code }

// Options tune a connection.
type Options struct {
	// Timeout bounds each request when ctx has no earlier deadline.
	Timeout time.Duration
	Logger  *log.Logger
}

// Client is one connection to iiod. Requests are serialized.
type Client struct {
	address string
	timeout time.Duration
	log     *log.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to address. A bare host gets DefaultPort.
func Dial(ctx context.Context, address string, opts Options) (*Client, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(DefaultPort))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to iiod at %s: %w", address, err)
	}
	opts.Logger.Debug("connected", "addr", address)

	return &Client{
		address: address,
		timeout: opts.Timeout,
		log:     opts.Logger,
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}, nil
}

// Address returns the daemon's host:port.
func (c *Client) Address() string { return c.address }

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SetTimeout sets the daemon-side timeout for blocking buffer operations.
func (c *Client) SetTimeout(ctx context.Context, d time.Duration) error {
	_, err := c.exec(ctx, fmt.Sprintf("TIMEOUT %d", d.Milliseconds()), nil)
	return err
}

// WriteChannelAttr writes value to attr of channel ch on device dev.
func (c *Client) WriteChannelAttr(ctx context.Context, dev string, output bool, ch, attr, value string) error {
	cmd := fmt.Sprintf("WRITE %s %s %s %s %d", dev, direction(output), ch, attr, len(value))
	_, err := c.exec(ctx, cmd, []byte(value))
	return err
}

// WriteDeviceAttr writes value to a device-level attribute.
func (c *Client) WriteDeviceAttr(ctx context.Context, dev, attr, value string) error {
	cmd := fmt.Sprintf("WRITE %s %s %d", dev, attr, len(value))
	_, err := c.exec(ctx, cmd, []byte(value))
	return err
}

// ReadChannelAttr reads attr of channel ch on device dev.
func (c *Client) ReadChannelAttr(ctx context.Context, dev string, output bool, ch, attr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := fmt.Sprintf("READ %s %s %s %s", dev, direction(output), ch, attr)
	n, err := c.execLocked(ctx, cmd, nil)
	if err != nil {
		return "", err
	}
	// The value is followed by a newline that is not counted.
	buf := make([]byte, n+1)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return "", fmt.Errorf("iiod %s: reading value: %w", cmd, err)
	}
	return strings.TrimRight(string(buf[:n]), "\x00"), nil
}

// Open creates an output buffer of samples slots on dev with the given
// channel mask (hex, as iiod prints it).
func (c *Client) Open(ctx context.Context, dev string, samples int, mask string, cyclic bool) error {
	cmd := fmt.Sprintf("OPEN %s %d %s", dev, samples, mask)
	if cyclic {
		cmd += " CYCLIC"
	}
	_, err := c.exec(ctx, cmd, nil)
	return err
}

// WriteBuffer sends p to the open buffer of dev and returns how many bytes
// the daemon accepted. It blocks until the hardware has room.
//
// The daemon acknowledges the WRITEBUF line before it reads the payload and
// reports the final byte count after.
func (c *Client) WriteBuffer(ctx context.Context, dev string, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := fmt.Sprintf("WRITEBUF %s %d", dev, len(p))
	if err := c.send(ctx, cmd, nil); err != nil {
		return 0, err
	}
	if _, err := c.status(cmd); err != nil {
		return 0, err
	}
	if _, err := c.conn.Write(p); err != nil {
		return 0, fmt.Errorf("iiod %s: payload: %w", cmd, err)
	}
	return c.status(cmd)
}

// CloseBuffer destroys the buffer of dev.
func (c *Client) CloseBuffer(ctx context.Context, dev string) error {
	_, err := c.exec(ctx, "CLOSE "+dev, nil)
	return err
}

func (c *Client) exec(ctx context.Context, cmd string, payload []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execLocked(ctx, cmd, payload)
}

// execLocked sends cmd and an optional payload, then reads the integer
// status line (caller must hold c.mu).
func (c *Client) execLocked(ctx context.Context, cmd string, payload []byte) (int, error) {
	if err := c.send(ctx, cmd, payload); err != nil {
		return 0, err
	}
	return c.status(cmd)
}

// send arms the connection deadline and writes cmd and payload.
func (c *Client) send(ctx context.Context, cmd string, payload []byte) error {
	if c.conn == nil {
		return fmt.Errorf("iiod %s: not connected", cmd)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := io.WriteString(c.conn, cmd+"\r\n"); err != nil {
		return fmt.Errorf("iiod %s: %w", cmd, err)
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return fmt.Errorf("iiod %s: payload: %w", cmd, err)
		}
	}
	return nil
}

// status reads one integer reply. Negative values are errnos.
func (c *Client) status(cmd string) (int, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("iiod %s: %w", cmd, err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: reply %q", ErrProtocol, cmd, line)
	}
	if code < 0 {
		return 0, &Error{Cmd: verb(cmd), Code: syscall.Errno(-code)}
	}
	c.log.Debug("ok", "cmd", verb(cmd), "ret", code)
	return code, nil
}

func direction(output bool) string {
	if output {
		return "OUTPUT"
	}
	return "INPUT"
}

func verb(cmd string) string {
	v, _, _ := strings.Cut(cmd, " ")
	return v
}
