package relp

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"
)

// fakeServer is a minimal RELP peer. Payloads containing "reject" are
// answered with 500; everything else with 200.
type fakeServer struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	received []string
	opens    int
	refuse   bool
	silent   bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := &fakeServer{t: t, listener: l}
	go s.serve()
	t.Cleanup(func() { _ = l.Close() })
	return s
}

func (s *fakeServer) setRefuse(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = v
}

func (s *fakeServer) setSilent(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = v
}

func (s *fakeServer) addr() string { return s.listener.Addr().String() }

func (s *fakeServer) payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		f, err := readFrame(r)
		if err != nil {
			return
		}
		var reply frame
		switch f.command {
		case "open":
			s.mu.Lock()
			s.opens++
			refuse := s.refuse
			s.mu.Unlock()
			if refuse {
				reply = frame{txnr: f.txnr, command: "rsp", data: []byte("500 go away")}
			} else {
				reply = frame{txnr: f.txnr, command: "rsp", data: []byte("200 OK\nrelp_version=0\nrelp_software=fake\ncommands=syslog")}
			}
		case "syslog":
			s.mu.Lock()
			s.received = append(s.received, string(f.data))
			silent := s.silent
			s.mu.Unlock()
			if silent {
				continue
			}
			if bytes.Contains(f.data, []byte("reject")) {
				reply = frame{txnr: f.txnr, command: "rsp", data: []byte("500 rejected")}
			} else {
				reply = frame{txnr: f.txnr, command: "rsp", data: []byte("200 OK")}
			}
		case "close":
			_ = writeFrame(w, frame{txnr: f.txnr, command: "rsp"})
			_ = w.Flush()
			return
		default:
			return
		}
		if err := writeFrame(w, reply); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
		if strings.HasPrefix(string(reply.data), "500 go away") {
			return
		}
	}
}
