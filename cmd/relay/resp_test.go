package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestReadCommand(t *testing.T) {
	input := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$5\r\nhello\r\nPING now\r\n"
	r := NewRESPReader(bufio.NewReader(strings.NewReader(input)))
	args, err := r.ReadCommand()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(args) != 3 || string(args[0]) != "SET" || string(args[2]) != "hello" {
		t.Fatalf("unexpected args %q", args)
	}
	args, err = r.ReadCommand()
	if err != nil {
		t.Fatalf("read inline: %v", err)
	}
	if len(args) != 2 || string(args[0]) != "PING" || string(args[1]) != "now" {
		t.Fatalf("unexpected inline args %q", args)
	}
}

func TestReadCommandProtocolError(t *testing.T) {
	r := NewRESPReader(bufio.NewReader(strings.NewReader("*1\r\n:3\r\n")))
	if _, err := r.ReadCommand(); err != errInvalidProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestWriteValue(t *testing.T) {
	var buf bytes.Buffer
	w := NewRESPWriter(bufio.NewWriter(&buf))
	w.WriteValue("OK")
	w.WriteStatus("OK")
	w.WriteStatus(int64(1))
	w.WriteValue([]any{"a", nil, int64(3)})
	w.WriteValue(1.5)
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	want := "$2\r\nOK\r\n+OK\r\n:1\r\n*3\r\n$1\r\na\r\n$-1\r\n:3\r\n$3\r\n1.5\r\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestStatusReply(t *testing.T) {
	cases := []struct {
		args []string
		want bool
	}{
		{[]string{"SET", "k", "v"}, true},
		{[]string{"SET", "k", "v", "GET"}, false},
		{[]string{"GET", "k"}, false},
		{[]string{"PING"}, true},
		{[]string{"PING", "hello"}, false},
		{[]string{"TYPE", "k"}, true},
		{[]string{"ECHO", "OK"}, false},
	}
	for _, tc := range cases {
		args := make([][]byte, len(tc.args))
		for i, a := range tc.args {
			args[i] = []byte(a)
		}
		if got := statusReply(strings.ToUpper(tc.args[0]), args); got != tc.want {
			t.Errorf("statusReply(%q) = %v, want %v", tc.args, got, tc.want)
		}
	}
}

func TestPrintReply(t *testing.T) {
	var buf bytes.Buffer
	printReply(&buf, []any{"a", int64(2), nil}, "")
	want := "1) \"a\"\n2) (integer) 2\n3) (nil)\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}
