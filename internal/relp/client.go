// Package relp is a client for the Reliable Event Logging Protocol. A
// Client owns one TCP connection and is not safe for concurrent use; the
// sender serializes all calls.
package relp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	ErrNotConnected = errors.New("relp: not connected")
	ErrServerClose  = errors.New("relp: server closed the session")
)

const defaultSoftware = "hec-relp-gateway"

type Options struct {
	// ConnectTimeout bounds the TCP dial plus the open handshake.
	ConnectTimeout time.Duration
	// AckTimeout bounds how long Commit waits for outstanding responses.
	AckTimeout time.Duration
	// WriteTimeout bounds each flush of outgoing frames.
	WriteTimeout time.Duration
	Software     string
}

type Client struct {
	address string
	opts    Options
	dialer  net.Dialer

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	txnr uint64
}

func NewClient(address string, opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Software == "" {
		opts.Software = defaultSoftware
	}
	return &Client{address: address, opts: opts}
}

func (c *Client) Address() string { return c.address }

func (c *Client) nextTxnr() uint64 {
	c.txnr++
	if c.txnr > maxTxnr {
		c.txnr = 1
	}
	return c.txnr
}

// Connect dials the peer and performs the open handshake. An existing
// connection is torn down first.
func (c *Client) Connect(ctx context.Context) error {
	_ = c.Disconnect()

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return err
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.w = bufio.NewWriter(conn)
	c.txnr = 0

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := c.open(); err != nil {
		_ = conn.Close()
		c.conn = nil
		return err
	}
	_ = conn.SetDeadline(time.Time{})
	return nil
}

func (c *Client) open() error {
	offers := "relp_version=0\nrelp_software=" + c.opts.Software + "\ncommands=syslog"
	txnr := c.nextTxnr()
	if err := writeFrame(c.w, frame{txnr: txnr, command: "open", data: []byte(offers)}); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}

	f, err := readFrame(c.r)
	if err != nil {
		return fmt.Errorf("relp open: %w", err)
	}
	if f.command != "rsp" || f.txnr != txnr {
		return fmt.Errorf("%w: unexpected %q for open", ErrProtocol, f.command)
	}
	resp, err := parseResponse(f.data)
	if err != nil {
		return err
	}
	if resp.code != 200 {
		return fmt.Errorf("relp open refused: %d %s", resp.code, resp.text)
	}
	if !strings.Contains(string(resp.rest), "syslog") {
		return fmt.Errorf("relp open: peer does not offer the syslog command")
	}
	return nil
}

// Commit sends every payload as a syslog command, then waits for each
// response. The returned slice reports which payloads the peer
// acknowledged with 200. A non-nil error means the connection is no longer
// usable; acks gathered before the failure are still reported.
func (c *Client) Commit(ctx context.Context, payloads [][]byte) ([]bool, error) {
	acks := make([]bool, len(payloads))
	if c.conn == nil {
		return acks, ErrNotConnected
	}
	if len(payloads) == 0 {
		return acks, nil
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	inflight := make(map[uint64]int, len(payloads))
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	for i, p := range payloads {
		txnr := c.nextTxnr()
		inflight[txnr] = i
		if err := writeFrame(c.w, frame{txnr: txnr, command: "syslog", data: p}); err != nil {
			return acks, err
		}
	}
	if err := c.w.Flush(); err != nil {
		return acks, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.AckTimeout))
	for len(inflight) > 0 {
		f, err := readFrame(c.r)
		if err != nil {
			if ctx.Err() != nil {
				return acks, ctx.Err()
			}
			return acks, err
		}
		switch f.command {
		case "rsp":
			idx, ok := inflight[f.txnr]
			if !ok {
				continue
			}
			delete(inflight, f.txnr)
			resp, err := parseResponse(f.data)
			if err != nil {
				return acks, err
			}
			acks[idx] = resp.code == 200
		case "serverclose":
			return acks, ErrServerClose
		default:
			return acks, fmt.Errorf("%w: unexpected command %q", ErrProtocol, f.command)
		}
	}
	_ = c.conn.SetDeadline(time.Time{})
	return acks, nil
}

// Disconnect sends close, waits briefly for the reply and drops the
// connection. It is safe to call when not connected.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil

	_ = conn.SetDeadline(time.Now().Add(time.Second))
	if err := writeFrame(c.w, frame{txnr: c.nextTxnr(), command: "close"}); err == nil {
		if c.w.Flush() == nil {
			_, _ = readFrame(c.r)
		}
	}
	return conn.Close()
}
