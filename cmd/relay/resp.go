package main

import (
	"bufio"
	"errors"
	"io"
	"strconv"
)

var errInvalidProtocol = errors.New("ERR protocol error")

// RESPReader parses client commands from a bufio.Reader.
type RESPReader struct {
	rd *bufio.Reader
}

func NewRESPReader(rd *bufio.Reader) *RESPReader {
	return &RESPReader{rd: rd}
}

// ReadCommand reads one command, either a RESP array of bulk strings or an
// inline command such as "PING".
func (r *RESPReader) ReadCommand() ([][]byte, error) {
	line, err := r.rd.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errInvalidProtocol
	}
	if line[0] != '*' {
		return splitInline(line[:len(line)-2]), nil
	}

	count, err := strconv.Atoi(string(line[1 : len(line)-2]))
	if err != nil || count < 0 {
		return nil, errInvalidProtocol
	}
	args := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		line, err = r.rd.ReadSlice('\n')
		if err != nil {
			return nil, err
		}
		if len(line) < 3 || line[0] != '$' {
			return nil, errInvalidProtocol
		}
		length, err := strconv.Atoi(string(line[1 : len(line)-2]))
		if err != nil {
			return nil, errInvalidProtocol
		}
		if length == -1 {
			args = append(args, nil)
			continue
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r.rd, data); err != nil {
			return nil, err
		}
		if _, err := r.rd.Discard(2); err != nil {
			return nil, err
		}
		args = append(args, data)
	}
	return args, nil
}

func splitInline(line []byte) [][]byte {
	var args [][]byte
	start := -1
	for i, b := range line {
		if b == ' ' || b == '\t' {
			if start >= 0 {
				args = append(args, append([]byte(nil), line[start:i]...))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		args = append(args, append([]byte(nil), line[start:]...))
	}
	return args
}

// RESPWriter writes RESP2 replies without fmt.
type RESPWriter struct {
	wr      *bufio.Writer
	scratch []byte
}

func NewRESPWriter(wr *bufio.Writer) *RESPWriter {
	return &RESPWriter{
		wr:      wr,
		scratch: make([]byte, 0, 32),
	}
}

func (w *RESPWriter) WriteError(msg string) {
	w.wr.WriteByte('-')
	w.wr.WriteString(msg)
	w.wr.WriteString("\r\n")
}

func (w *RESPWriter) WriteSimpleString(msg string) {
	w.wr.WriteByte('+')
	w.wr.WriteString(msg)
	w.wr.WriteString("\r\n")
}

func (w *RESPWriter) WriteBulk(data []byte) {
	w.writeHeader('$', int64(len(data)))
	w.wr.Write(data)
	w.wr.WriteString("\r\n")
}

func (w *RESPWriter) WriteNull() {
	w.wr.WriteString("$-1\r\n")
}

func (w *RESPWriter) WriteInt(n int64) {
	w.writeHeader(':', n)
}

func (w *RESPWriter) WriteArray(n int) {
	w.writeHeader('*', int64(n))
}

// WriteStatus encodes a reply whose strings are status replies, such as
// the OK of SET.
func (w *RESPWriter) WriteStatus(v any) {
	if s, ok := v.(string); ok {
		w.WriteSimpleString(s)
		return
	}
	w.WriteValue(v)
}

// WriteValue encodes a reply returned by the store client. Strings are
// written as bulk strings.
func (w *RESPWriter) WriteValue(v any) {
	switch v := v.(type) {
	case nil:
		w.WriteNull()
	case string:
		w.WriteBulk([]byte(v))
	case []byte:
		w.WriteBulk(v)
	case int64:
		w.WriteInt(v)
	case int:
		w.WriteInt(int64(v))
	case bool:
		if v {
			w.WriteInt(1)
		} else {
			w.WriteInt(0)
		}
	case float64:
		w.WriteBulk([]byte(strconv.FormatFloat(v, 'f', -1, 64)))
	case []any:
		w.WriteArray(len(v))
		for _, item := range v {
			w.WriteValue(item)
		}
	case error:
		w.WriteError(v.Error())
	default:
		w.WriteError("ERR unsupported reply type")
	}
}

func (w *RESPWriter) writeHeader(prefix byte, n int64) {
	w.wr.WriteByte(prefix)
	w.scratch = strconv.AppendInt(w.scratch[:0], n, 10)
	w.wr.Write(w.scratch)
	w.wr.WriteString("\r\n")
}

func (w *RESPWriter) Flush() error {
	return w.wr.Flush()
}
