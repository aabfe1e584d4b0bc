package relp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf strings.Builder
	w := bufio.NewWriter(&buf)
	if err := writeFrame(w, frame{txnr: 7, command: "syslog", data: []byte("hello\nworld")}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if err := writeFrame(w, frame{txnr: 8, command: "close"}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	_ = w.Flush()
	if buf.String() != "7 syslog 11 hello\nworld\n8 close 0\n" {
		t.Fatalf("unexpected wire form %q", buf.String())
	}

	r := bufio.NewReader(strings.NewReader(buf.String()))
	f, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.txnr != 7 || f.command != "syslog" || string(f.data) != "hello\nworld" {
		t.Fatalf("unexpected frame %+v", f)
	}
	f, err = readFrame(r)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.txnr != 8 || f.command != "close" || len(f.data) != 0 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestReadFrame_Malformed(t *testing.T) {
	for _, wire := range []string{
		"x rsp 0\n",
		"1 rsp 5 abc\n",
		"1 r$p 0\n",
		"1 rsp 3 abcX",
		"1234567890 rsp 0\n",
	} {
		_, err := readFrame(bufio.NewReader(strings.NewReader(wire)))
		if err == nil {
			t.Fatalf("expected error for %q", wire)
		}
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse([]byte("200 OK\nrelp_version=0"))
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.code != 200 || resp.text != "OK" || string(resp.rest) != "relp_version=0" {
		t.Fatalf("unexpected %+v", resp)
	}
	if _, err := parseResponse([]byte("2")); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestClient_CommitAcknowledgesEachRecord(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(srv.addr(), Options{AckTimeout: 2 * time.Second})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	acks, err := c.Commit(ctx, [][]byte{[]byte("one"), []byte("reject me"), []byte("three")})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !acks[0] || acks[1] || !acks[2] {
		t.Fatalf("unexpected acks %v", acks)
	}
	if got := srv.payloads(); len(got) != 3 {
		t.Fatalf("expected 3 payloads at server, got %v", got)
	}
}

func TestClient_CommitWithoutConnect(t *testing.T) {
	c := NewClient("127.0.0.1:1", Options{})
	acks, err := c.Commit(context.Background(), [][]byte{[]byte("x")})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(acks) != 1 || acks[0] {
		t.Fatalf("unexpected acks %v", acks)
	}
}

func TestClient_OpenRefused(t *testing.T) {
	srv := newFakeServer(t)
	srv.setRefuse(true)
	c := NewClient(srv.addr(), Options{ConnectTimeout: time.Second})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected open to be refused")
	}
}

func TestClient_AckTimeout(t *testing.T) {
	srv := newFakeServer(t)
	srv.setSilent(true)
	c := NewClient(srv.addr(), Options{AckTimeout: 100 * time.Millisecond})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	acks, err := c.Commit(context.Background(), [][]byte{[]byte("x")})
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout, got %v", err)
	}
	if acks[0] {
		t.Fatalf("expected unacknowledged record")
	}
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(srv.addr(), Options{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}
