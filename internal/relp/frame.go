package relp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	maxTxnr       = 999_999_999
	maxCommandLen = 32
	maxDataLen    = 128 * 1024 * 1024
)

var ErrProtocol = errors.New("relp: protocol error")

// frame is one RELP message: TXNR SP COMMAND SP DATALEN [SP DATA] LF.
type frame struct {
	txnr    uint64
	command string
	data    []byte
}

func writeFrame(w *bufio.Writer, f frame) error {
	w.WriteString(strconv.FormatUint(f.txnr, 10))
	w.WriteByte(' ')
	w.WriteString(f.command)
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(len(f.data)))
	if len(f.data) > 0 {
		w.WriteByte(' ')
		w.Write(f.data)
	}
	return w.WriteByte('\n')
}

func readFrame(r *bufio.Reader) (frame, error) {
	var f frame

	txnr, sep, err := readNumber(r, 9)
	if err != nil {
		return f, err
	}
	if sep != ' ' {
		return f, fmt.Errorf("%w: missing space after txnr", ErrProtocol)
	}
	f.txnr = txnr

	cmd := make([]byte, 0, 8)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return f, err
		}
		if b == ' ' {
			break
		}
		if !isAlpha(b) || len(cmd) == maxCommandLen {
			return f, fmt.Errorf("%w: bad command", ErrProtocol)
		}
		cmd = append(cmd, b)
	}
	if len(cmd) == 0 {
		return f, fmt.Errorf("%w: empty command", ErrProtocol)
	}
	f.command = string(cmd)

	datalen, sep, err := readNumber(r, 9)
	if err != nil {
		return f, err
	}
	if datalen > maxDataLen {
		return f, fmt.Errorf("%w: datalen %d too large", ErrProtocol, datalen)
	}
	if sep == '\n' {
		if datalen != 0 {
			return f, fmt.Errorf("%w: truncated frame", ErrProtocol)
		}
		return f, nil
	}
	if sep != ' ' {
		return f, fmt.Errorf("%w: bad datalen separator", ErrProtocol)
	}

	if datalen > 0 {
		f.data = make([]byte, datalen)
		if _, err := io.ReadFull(r, f.data); err != nil {
			return f, err
		}
	}
	trailer, err := r.ReadByte()
	if err != nil {
		return f, err
	}
	if trailer != '\n' {
		return f, fmt.Errorf("%w: missing trailer", ErrProtocol)
	}
	return f, nil
}

// readNumber reads up to maxDigits decimal digits and returns the value and
// the byte that terminated it.
func readNumber(r *bufio.Reader, maxDigits int) (uint64, byte, error) {
	var n uint64
	digits := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		if b < '0' || b > '9' {
			if digits == 0 {
				return 0, 0, fmt.Errorf("%w: expected digit, got %q", ErrProtocol, b)
			}
			return n, b, nil
		}
		digits++
		if digits > maxDigits {
			return 0, 0, fmt.Errorf("%w: number too long", ErrProtocol)
		}
		n = n*10 + uint64(b-'0')
	}
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// response is the parsed DATA of an "rsp" frame: a three digit status code,
// human readable text, and optional data after the first LF.
type response struct {
	code int
	text string
	rest []byte
}

func parseResponse(data []byte) (response, error) {
	if len(data) < 3 {
		return response{}, fmt.Errorf("%w: short response %q", ErrProtocol, data)
	}
	code, err := strconv.Atoi(string(data[:3]))
	if err != nil {
		return response{}, fmt.Errorf("%w: bad response code %q", ErrProtocol, data[:3])
	}
	resp := response{code: code}
	line := data[3:]
	for i, b := range line {
		if b == '\n' {
			resp.rest = line[i+1:]
			line = line[:i]
			break
		}
	}
	if len(line) > 0 && line[0] == ' ' {
		line = line[1:]
	}
	resp.text = string(line)
	return resp, nil
}
