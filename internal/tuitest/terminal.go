package tuitest

import (
	"bytes"
	"io"
)

// terminalQueries lists the capability probes lipgloss and bubbletea send at
// startup, paired with the reply a dark xterm would give. Without replies the
// program stalls until its own probe timeout.
var terminalQueries = []struct {
	query, reply string
}{
	{"\x1b[6n", "\x1b[1;1R"},
	{"\x1b]10;?\x07", "\x1b]10;rgb:cccc/cccc/cccc\x07"},
	{"\x1b]10;?\x1b\\", "\x1b]10;rgb:cccc/cccc/cccc\x1b\\"},
	{"\x1b]11;?\x07", "\x1b]11;rgb:0000/0000/0000\x07"},
	{"\x1b]11;?\x1b\\", "\x1b]11;rgb:0000/0000/0000\x1b\\"},
}

type terminalResponder struct {
	w   io.Writer
	buf []byte
}

func newTerminalResponder(w io.Writer) *terminalResponder {
	return &terminalResponder{w: w, buf: make([]byte, 0, 128)}
}

// Process answers every probe found in chunk. A short tail is kept so a probe
// split across reads is still seen.
func (tr *terminalResponder) Process(chunk []byte) {
	tr.buf = append(tr.buf, chunk...)
	for tr.answerNext() {
	}
	if len(tr.buf) > 256 {
		tr.buf = tr.buf[len(tr.buf)-64:]
	}
}

// answerNext replies to the earliest probe in the buffer and drops everything
// up to its end.
func (tr *terminalResponder) answerNext() bool {
	first, end := -1, 0
	reply := ""
	for _, q := range terminalQueries {
		idx := bytes.Index(tr.buf, []byte(q.query))
		if idx >= 0 && (first < 0 || idx < first) {
			first, end, reply = idx, idx+len(q.query), q.reply
		}
	}
	if first < 0 {
		return false
	}
	tr.buf = tr.buf[end:]
	_, _ = io.WriteString(tr.w, reply)
	return true
}
