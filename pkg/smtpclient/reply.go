package smtpclient

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Reply is one complete SMTP server response, possibly spanning several
// continuation lines.
type Reply struct {
	Code  int
	Lines []string
}

func (r Reply) Text() string { return strings.Join(r.Lines, " ") }

func (r Reply) Success() bool   { return r.Code >= 200 && r.Code < 300 }
func (r Reply) Temporary() bool { return r.Code >= 400 && r.Code < 500 }
func (r Reply) Permanent() bool { return r.Code >= 500 }

// readReply consumes one full server response. Multiline replies use
// "NNN-text" continuations and end with "NNN text"; the code must stay
// constant across lines.
func readReply(r *bufio.Reader) (Reply, error) {
	reply := Reply{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return reply, err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return reply, fmt.Errorf("short SMTP reply line %q", line)
		}

		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return reply, fmt.Errorf("malformed SMTP reply code in %q", line)
		}
		if reply.Code == 0 {
			reply.Code = code
		} else if reply.Code != code {
			return reply, fmt.Errorf("inconsistent SMTP reply codes %d and %d", reply.Code, code)
		}

		text := ""
		cont := false
		if len(line) > 3 {
			cont = line[3] == '-'
			text = line[4:]
		}
		reply.Lines = append(reply.Lines, text)

		if !cont {
			return reply, nil
		}
	}
}
