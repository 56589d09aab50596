package smtpclient

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// testServer is a minimal scripted SMTP server for exercising the client
// state machine over a real TCP connection.
type testServer struct {
	listener   net.Listener
	rejectRcpt map[string]string // address -> rejection line
	authOK     bool
	gotData    chan string
	gotFrom    chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &testServer{
		listener:   l,
		rejectRcpt: map[string]string{},
		authOK:     true,
		gotData:    make(chan string, 1),
		gotFrom:    make(chan string, 1),
	}
	go srv.serve()
	t.Cleanup(func() { l.Close() })
	return srv
}

func (s *testServer) config() ServerConfig {
	addr := s.listener.Addr().(*net.TCPAddr)
	return ServerConfig{Host: "127.0.0.1", Port: addr.Port}
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *testServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	write := func(line string) { conn.Write([]byte(line + "\r\n")) }

	write("220 test.example ESMTP ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"):
			write("250-test.example")
			write("250 AUTH PLAIN LOGIN")
		case strings.HasPrefix(upper, "AUTH PLAIN"):
			if s.authOK {
				write("235 2.7.0 accepted")
			} else {
				write("535 5.7.8 authentication credentials invalid")
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.gotFrom <- line
			write("250 2.1.0 sender ok")
		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := strings.TrimSuffix(strings.TrimPrefix(line[len("RCPT TO:"):], "<"), ">")
			if rejection, ok := s.rejectRcpt[strings.ToLower(addr)]; ok {
				write(rejection)
			} else {
				write("250 2.1.5 recipient ok")
			}
		case upper == "DATA":
			write("354 go ahead")
			var data strings.Builder
			for {
				dline, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(dline, "\r\n") == "." {
					break
				}
				data.WriteString(dline)
			}
			s.gotData <- data.String()
			write("250 2.0.0 OK queued as msg-1")
		case upper == "QUIT":
			write("221 bye")
			return
		default:
			write("502 command not implemented")
		}
	}
}

type allowAllSuppression struct{}

func (allowAllSuppression) FilterSuppressed(emails []string) ([]string, []string, error) {
	return emails, nil, nil
}

type blockAllSuppression struct{}

func (blockAllSuppression) FilterSuppressed(emails []string) ([]string, []string, error) {
	return nil, emails, nil
}

type unlimitedRate struct{}

func (unlimitedRate) CheckAndCount(domain string) (time.Duration, error) { return 0, nil }

type limitedRate struct{ after time.Duration }

func (l limitedRate) CheckAndCount(domain string) (time.Duration, error) { return l.after, nil }

func testEmail() *Email {
	return &Email{
		From:     "sales@dealer.example",
		To:       []string{"buyer@example.com"},
		Subject:  "Hello",
		HTMLBody: "<p>hi</p>",
	}
}

func newTestTransport(server ServerConfig, suppression SuppressionChecker, limiter RateLimiter) *Transport {
	return NewTransport(Config{
		Strategy:   StrategyLocalRelay,
		Relay:      server,
		HeloDomain: "mail.dealer.example",
		Timeouts:   Timeouts{Connect: 2 * time.Second, Command: 2 * time.Second},
	}, suppression, limiter, nil, nil)
}

func TestTransportSendSuccess(t *testing.T) {
	srv := newTestServer(t)
	transport := newTestTransport(srv.config(), allowAllSuppression{}, unlimitedRate{})

	res := transport.Send(testEmail())
	if !res.Success {
		t.Fatalf("send failed: %v (%s)", res.Err, res.Response)
	}
	if res.ProviderMessageID == "" {
		t.Error("missing provider message id")
	}
	if len(res.Accepted) != 1 || res.Accepted[0] != "buyer@example.com" {
		t.Errorf("accepted = %v", res.Accepted)
	}
	if !strings.Contains(res.Response, "queued as msg-1") {
		t.Errorf("response = %q", res.Response)
	}

	data := <-srv.gotData
	if !strings.Contains(data, "Subject: Hello") {
		t.Error("message data missing subject")
	}
}

func TestTransportPartialAcceptance(t *testing.T) {
	srv := newTestServer(t)
	srv.rejectRcpt["bad@example.com"] = "550 5.1.1 user unknown"
	transport := newTestTransport(srv.config(), allowAllSuppression{}, unlimitedRate{})

	email := testEmail()
	email.To = []string{"buyer@example.com", "bad@example.com"}
	res := transport.Send(email)
	if !res.Success {
		t.Fatalf("transaction should proceed with one accepted recipient: %v", res.Err)
	}
	if len(res.Accepted) != 1 || len(res.Rejected) != 1 {
		t.Errorf("accepted %v rejected %v", res.Accepted, res.Rejected)
	}
}

func TestTransportAllRecipientsRejected(t *testing.T) {
	srv := newTestServer(t)
	srv.rejectRcpt["buyer@example.com"] = "550 5.1.1 user unknown"
	transport := newTestTransport(srv.config(), allowAllSuppression{}, unlimitedRate{})

	res := transport.Send(testEmail())
	if res.Success {
		t.Fatal("send should fail with every recipient rejected")
	}
	if res.ShouldRetry {
		t.Error("hard rejection should not retry")
	}
	if !res.HardBounce {
		t.Error("user unknown should classify as hard bounce")
	}
}

func TestTransportSuppressionPreflight(t *testing.T) {
	// No server: a suppressed send must not open a connection.
	transport := newTestTransport(ServerConfig{Host: "127.0.0.1", Port: 1}, blockAllSuppression{}, unlimitedRate{})

	res := transport.Send(testEmail())
	if res.Success {
		t.Fatal("expected failure")
	}
	if _, ok := res.Err.(*SuppressionError); !ok {
		t.Errorf("expected SuppressionError, got %T", res.Err)
	}
	if res.ShouldRetry {
		t.Error("suppression is terminal")
	}
}

func TestTransportRateLimitPreflight(t *testing.T) {
	transport := newTestTransport(ServerConfig{Host: "127.0.0.1", Port: 1}, allowAllSuppression{}, limitedRate{after: 30 * time.Minute})

	res := transport.Send(testEmail())
	if res.Success {
		t.Fatal("expected failure")
	}
	rle, ok := res.Err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T", res.Err)
	}
	if !res.ShouldRetry || res.RetryAfter != 30*time.Minute || rle.RetryAfter != 30*time.Minute {
		t.Errorf("retry %v after %s", res.ShouldRetry, res.RetryAfter)
	}
}

func TestTransportAuthFailureIsTerminal(t *testing.T) {
	srv := newTestServer(t)
	srv.authOK = false
	cfg := srv.config()
	cfg.Username = "user"
	cfg.Password = "pass"
	transport := newTestTransport(cfg, allowAllSuppression{}, unlimitedRate{})

	res := transport.Send(testEmail())
	if res.Success {
		t.Fatal("expected auth failure")
	}
	if _, ok := res.Err.(*AuthenticationError); !ok {
		t.Errorf("expected AuthenticationError, got %T: %v", res.Err, res.Err)
	}
	if res.ShouldRetry {
		t.Error("credential rejection is not per-message retryable")
	}
}

func TestTransportConnectionRefusedRetries(t *testing.T) {
	transport := newTestTransport(ServerConfig{Host: "127.0.0.1", Port: 1}, allowAllSuppression{}, unlimitedRate{})

	res := transport.Send(testEmail())
	if res.Success {
		t.Fatal("expected failure")
	}
	if _, ok := res.Err.(*ConnectionError); !ok {
		t.Errorf("expected ConnectionError, got %T", res.Err)
	}
	if !res.ShouldRetry {
		t.Error("network failures are retryable")
	}
}
