// Package stomp is a STOMP 1.2 client transport over WebSocket.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Commands used by the client.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
	CmdSend        = "SEND"
)

var errIncompleteFrame = errors.New("stomp: incomplete frame")

// Header is one frame header; order is preserved and the first occurrence wins.
type Header struct {
	Key   string
	Value string
}

// Frame is a STOMP frame.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame builds a frame from alternating key/value pairs.
func NewFrame(command string, kv ...string) *Frame {
	f := &Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Key: kv[i], Value: kv[i+1]})
	}
	return f
}

// Get returns the first value of key.
func (f *Frame) Get(key string) string {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

var (
	headerEscaper   = strings.NewReplacer("\\", `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, "\\", `\r`, "\r", `\n`, "\n", `\c`, ":")
)

// Marshal encodes f, adding content-length when a body is present.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	esc := escapes(f.Command)
	for _, h := range f.Headers {
		k, v := h.Key, h.Value
		if esc {
			k, v = headerEscaper.Replace(k), headerEscaper.Replace(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 && f.Get("content-length") == "" {
		buf.WriteString("content-length:")
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes all frames in data. Heart-beat EOLs between frames are skipped.
func Parse(data []byte) ([]*Frame, error) {
	var frames []*Frame
	for {
		data = bytes.TrimLeft(data, "\r\n")
		if len(data) == 0 {
			return frames, nil
		}
		f, rest, err := parseOne(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
}

func parseOne(data []byte) (*Frame, []byte, error) {
	headEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headEnd < 0 || crlf < headEnd) {
		headEnd, sepLen = crlf, 4
	}
	if headEnd < 0 {
		return nil, nil, errIncompleteFrame
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:headEnd]), "\r\n", "\n"), "\n")
	f := &Frame{Command: lines[0]}
	esc := escapes(f.Command)
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		if esc {
			k, v = headerUnescaper.Replace(k), headerUnescaper.Replace(v)
		}
		f.Headers = append(f.Headers, Header{Key: k, Value: v})
	}

	body := data[headEnd+sepLen:]
	if cl := f.Get("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		if len(body) < n+1 || body[n] != 0 {
			return nil, nil, errIncompleteFrame
		}
		f.Body = append([]byte(nil), body[:n]...)
		return f, body[n+1:], nil
	}

	end := bytes.IndexByte(body, 0)
	if end < 0 {
		return nil, nil, errIncompleteFrame
	}
	f.Body = append([]byte(nil), body[:end]...)
	return f, body[end+1:], nil
}

// parseHeartBeat reads a "cx,cy" heart-beat header.
func parseHeartBeat(v string) (int, int) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(a))
	y, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return x, y
}
