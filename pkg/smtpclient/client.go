package smtpclient

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"
)

// sessionState tracks the SMTP conversation. Commands are only legal in
// specific states; the session never moves backwards.
type sessionState int

const (
	stateConnected sessionState = iota
	stateGreeted
	stateHello
	stateEncrypted
	stateAuthenticated
	stateMail
	stateRcpt
	stateData
	stateClosed
)

// ServerConfig describes one SMTP server endpoint.
type ServerConfig struct {
	Host               string `json:"host" yaml:"host"`
	Port               int    `json:"port" yaml:"port"`
	Username           string `json:"user" yaml:"user"`
	Password           string `json:"password" yaml:"password"`
	UseSTARTTLS        bool   `json:"use_starttls" yaml:"use_starttls"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeouts bound the only suspension points of a transaction. A timeout
// is reported as a ConnectionError and treated as retryable.
type Timeouts struct {
	Connect time.Duration `json:"connect" yaml:"connect"`
	Command time.Duration `json:"command" yaml:"command"`
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = 30 * time.Second
	}
	if t.Command <= 0 {
		t.Command = 60 * time.Second
	}
	return t
}

type session struct {
	conn       net.Conn
	reader     *bufio.Reader
	state      sessionState
	server     ServerConfig
	timeouts   Timeouts
	heloDomain string
	extensions map[string]string
}

func dialSession(server ServerConfig, timeouts Timeouts, heloDomain string) (*session, error) {
	timeouts = timeouts.withDefaults()
	conn, err := net.DialTimeout("tcp", server.Address(), timeouts.Connect)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	s := &session{
		conn:       conn,
		reader:     bufio.NewReader(conn),
		state:      stateConnected,
		server:     server,
		timeouts:   timeouts,
		heloDomain: heloDomain,
		extensions: map[string]string{},
	}

	greeting, err := s.read()
	if err != nil {
		s.close()
		return nil, err
	}
	if greeting.Code != 220 {
		s.close()
		return nil, &ProtocolError{Command: "greeting", Code: greeting.Code, Message: greeting.Text()}
	}
	s.state = stateGreeted
	return s, nil
}

func (s *session) read() (Reply, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeouts.Command)); err != nil {
		return Reply{}, &ConnectionError{Op: "deadline", Err: err}
	}
	reply, err := readReply(s.reader)
	if err != nil {
		return reply, &ConnectionError{Op: "read", Err: err}
	}
	return reply, nil
}

func (s *session) cmd(command string) (Reply, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeouts.Command)); err != nil {
		return Reply{}, &ConnectionError{Op: "deadline", Err: err}
	}
	if _, err := s.conn.Write([]byte(command + "\r\n")); err != nil {
		return Reply{}, &ConnectionError{Op: "write", Err: err}
	}
	return s.read()
}

// hello sends EHLO and records the advertised extensions.
func (s *session) hello() error {
	reply, err := s.cmd("EHLO " + s.heloDomain)
	if err != nil {
		return err
	}
	if !reply.Success() {
		return &ProtocolError{Command: "EHLO", Code: reply.Code, Message: reply.Text()}
	}
	s.extensions = map[string]string{}
	for i, line := range reply.Lines {
		if i == 0 {
			continue // server banner
		}
		keyword, params, _ := strings.Cut(line, " ")
		s.extensions[strings.ToUpper(keyword)] = params
	}
	if s.state < stateHello {
		s.state = stateHello
	}
	return nil
}

func (s *session) supports(extension string) bool {
	_, ok := s.extensions[strings.ToUpper(extension)]
	return ok
}

// startTLS upgrades the connection when offered (or required) and
// re-issues EHLO over the encrypted channel.
func (s *session) startTLS(required bool) error {
	if !s.supports("STARTTLS") {
		if required {
			return &ConnectionError{Op: "starttls", Err: fmt.Errorf("server %s does not offer STARTTLS", s.server.Host)}
		}
		return nil
	}

	reply, err := s.cmd("STARTTLS")
	if err != nil {
		return err
	}
	if reply.Code != 220 {
		if required {
			return &ProtocolError{Command: "STARTTLS", Code: reply.Code, Message: reply.Text()}
		}
		return nil
	}

	tlsConn := tls.Client(s.conn, &tls.Config{
		ServerName:         s.server.Host,
		InsecureSkipVerify: s.server.InsecureSkipVerify,
	})
	if err := tlsConn.SetDeadline(time.Now().Add(s.timeouts.Command)); err != nil {
		return &ConnectionError{Op: "deadline", Err: err}
	}
	if err := tlsConn.Handshake(); err != nil {
		return &ConnectionError{Op: "tls handshake", Err: err}
	}
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.state = stateEncrypted

	return s.hello()
}

// authenticate tries AUTH PLAIN, falling back to AUTH LOGIN when PLAIN
// is not advertised.
func (s *session) authenticate() error {
	if s.server.Username == "" {
		return nil
	}

	mechanisms := strings.ToUpper(s.extensions["AUTH"])
	if strings.Contains(mechanisms, "PLAIN") || mechanisms == "" {
		payload := base64.StdEncoding.EncodeToString([]byte("\x00" + s.server.Username + "\x00" + s.server.Password))
		reply, err := s.cmd("AUTH PLAIN " + payload)
		if err != nil {
			return err
		}
		if reply.Code != 235 {
			return &AuthenticationError{Mechanism: "PLAIN", Reply: reply.Text()}
		}
		s.state = stateAuthenticated
		return nil
	}

	reply, err := s.cmd("AUTH LOGIN")
	if err != nil {
		return err
	}
	if reply.Code != 334 {
		return &AuthenticationError{Mechanism: "LOGIN", Reply: reply.Text()}
	}
	reply, err = s.cmd(base64.StdEncoding.EncodeToString([]byte(s.server.Username)))
	if err != nil {
		return err
	}
	if reply.Code != 334 {
		return &AuthenticationError{Mechanism: "LOGIN", Reply: reply.Text()}
	}
	reply, err = s.cmd(base64.StdEncoding.EncodeToString([]byte(s.server.Password)))
	if err != nil {
		return err
	}
	if reply.Code != 235 {
		return &AuthenticationError{Mechanism: "LOGIN", Reply: reply.Text()}
	}
	s.state = stateAuthenticated
	return nil
}

// transact runs MAIL FROM / RCPT TO / DATA. Partial recipient acceptance
// is allowed: the transaction proceeds as long as at least one RCPT was
// accepted.
func (s *session) transact(from string, recipients []string, data []byte) (_ Reply, accepted []string, rejected []string, err error) {
	reply, err := s.cmd("MAIL FROM:<" + from + ">")
	if err != nil {
		return Reply{}, nil, nil, err
	}
	if !reply.Success() {
		return reply, nil, nil, &ProtocolError{Command: "MAIL FROM", Code: reply.Code, Message: reply.Text()}
	}
	s.state = stateMail

	var lastRejection Reply
	for _, rcpt := range recipients {
		reply, err := s.cmd("RCPT TO:<" + rcpt + ">")
		if err != nil {
			return Reply{}, accepted, rejected, err
		}
		if reply.Success() {
			accepted = append(accepted, rcpt)
		} else {
			rejected = append(rejected, rcpt)
			lastRejection = reply
		}
	}
	if len(accepted) == 0 {
		return lastRejection, accepted, rejected, &ProtocolError{Command: "RCPT TO", Code: lastRejection.Code, Message: lastRejection.Text()}
	}
	s.state = stateRcpt

	reply, err = s.cmd("DATA")
	if err != nil {
		return Reply{}, accepted, rejected, err
	}
	if reply.Code != 354 {
		return reply, accepted, rejected, &ProtocolError{Command: "DATA", Code: reply.Code, Message: reply.Text()}
	}
	s.state = stateData

	if err := s.writeData(data); err != nil {
		return Reply{}, accepted, rejected, err
	}

	final, err := s.read()
	if err != nil {
		return Reply{}, accepted, rejected, err
	}
	if !final.Success() {
		return final, accepted, rejected, &ProtocolError{Command: "message", Code: final.Code, Message: final.Text()}
	}
	return final, accepted, rejected, nil
}

// writeData sends the message with dot-stuffing and the final
// CRLF.CRLF terminator.
func (s *session) writeData(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeouts.Command)); err != nil {
		return &ConnectionError{Op: "deadline", Err: err}
	}

	stuffed := strings.ReplaceAll(string(data), "\r\n.", "\r\n..")
	if strings.HasPrefix(stuffed, ".") {
		stuffed = "." + stuffed
	}
	if !strings.HasSuffix(stuffed, "\r\n") {
		stuffed += "\r\n"
	}
	if _, err := s.conn.Write([]byte(stuffed + ".\r\n")); err != nil {
		return &ConnectionError{Op: "write data", Err: err}
	}
	return nil
}

func (s *session) quit() {
	if s.state == stateClosed {
		return
	}
	_, _ = s.cmd("QUIT")
	s.close()
}

func (s *session) close() {
	if s.state == stateClosed {
		return
	}
	_ = s.conn.Close()
	s.state = stateClosed
}
