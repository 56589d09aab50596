package smtpclient

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"
)

// Strategy selects how a message reaches the wire.
type Strategy string

const (
	StrategyLocalRelay Strategy = "local_relay"
	StrategyAuthRelay  Strategy = "auth_relay"
	StrategyDirectMX   Strategy = "direct_mx"
)

// DeliveryResult is the structured outcome of one transport attempt.
// The queue schedules retries from these flags instead of unwinding
// through errors.
type DeliveryResult struct {
	Success           bool
	ProviderMessageID string
	Response          string
	Err               error
	ShouldRetry       bool
	RetryAfter        time.Duration
	HardBounce        bool
	Accepted          []string
	Rejected          []string
}

// SuppressionChecker filters recipients against the suppression list.
type SuppressionChecker interface {
	FilterSuppressed(emails []string) (allowed []string, suppressed []string, err error)
}

// RateLimiter enforces the per-domain sending budget. A zero duration
// means the send was admitted and counted.
type RateLimiter interface {
	CheckAndCount(domain string) (retryAfter time.Duration, err error)
}

// Signer adds the DKIM signature. Implementations are fail-open.
type Signer interface {
	Sign(raw []byte, domain string) ([]byte, error)
}

// MXResolver looks up mail exchangers. DNS correctness is an external
// concern; tests plug in a fake.
type MXResolver interface {
	LookupMX(domain string) ([]*net.MX, error)
}

// NetResolver resolves MX records through the system resolver.
type NetResolver struct{}

func (NetResolver) LookupMX(domain string) ([]*net.MX, error) {
	return net.LookupMX(domain)
}

// Config selects and parameterizes the delivery strategy.
type Config struct {
	Strategy   Strategy     `json:"strategy" yaml:"strategy"`
	Relay      ServerConfig `json:"relay" yaml:"relay"`
	HeloDomain string       `json:"helo_domain" yaml:"helo_domain"`
	Timeouts   Timeouts     `json:"timeouts" yaml:"timeouts"`
	MXPort     int          `json:"mx_port" yaml:"mx_port"`
}

// Transport sends fully built messages. It consults suppression and
// rate-limit state before touching the network and signs with DKIM as
// the last construction step.
type Transport struct {
	config      Config
	suppression SuppressionChecker
	limiter     RateLimiter
	signer      Signer
	resolver    MXResolver
	now         func() time.Time
}

func NewTransport(config Config, suppression SuppressionChecker, limiter RateLimiter, signer Signer, resolver MXResolver) *Transport {
	if config.MXPort == 0 {
		config.MXPort = 25
	}
	if config.HeloDomain == "" {
		config.HeloDomain = "localhost"
	}
	if resolver == nil {
		resolver = NetResolver{}
	}
	return &Transport{
		config:      config,
		suppression: suppression,
		limiter:     limiter,
		signer:      signer,
		resolver:    resolver,
		now:         time.Now,
	}
}

// Send runs pre-flight checks, builds and signs the message, then
// delivers it with the configured strategy.
func (t *Transport) Send(email *Email) DeliveryResult {
	// Pre-flight: suppression. Suppressed addresses are dropped
	// silently; the attempt only fails when nobody is left.
	if t.suppression != nil {
		var suppressedAll []string
		for _, list := range []*[]string{&email.To, &email.Cc, &email.Bcc} {
			if len(*list) == 0 {
				continue
			}
			allowed, suppressed, err := t.suppression.FilterSuppressed(*list)
			if err != nil {
				return DeliveryResult{Err: err, ShouldRetry: true, Response: err.Error()}
			}
			*list = allowed
			suppressedAll = append(suppressedAll, suppressed...)
		}
		if len(email.AllRecipients()) == 0 {
			err := &SuppressionError{Recipients: suppressedAll}
			return DeliveryResult{Err: err, Response: err.Error()}
		}
	}

	// Pre-flight: domain rate limit.
	if t.limiter != nil {
		retryAfter, err := t.limiter.CheckAndCount(email.FromDomain())
		if err != nil {
			return DeliveryResult{Err: err, ShouldRetry: true, Response: err.Error()}
		}
		if retryAfter > 0 {
			err := &RateLimitError{Domain: email.FromDomain(), RetryAfter: retryAfter}
			return DeliveryResult{Err: err, ShouldRetry: true, RetryAfter: retryAfter, Response: err.Error()}
		}
	}

	messageID, raw, err := BuildMessage(email, t.now())
	if err != nil {
		return DeliveryResult{Err: err, Response: err.Error()}
	}

	// DKIM last, so the signature covers the final bytes. Fail-open.
	if t.signer != nil {
		signed, err := t.signer.Sign(raw, email.FromDomain())
		if err != nil {
			slog.Warn("sending unsigned after DKIM failure",
				slog.String("domain", email.FromDomain()),
				slog.String("error", (&SigningError{Domain: email.FromDomain(), Err: err}).Error()))
		} else {
			raw = signed
		}
	}

	var result DeliveryResult
	switch t.config.Strategy {
	case StrategyDirectMX:
		result = t.sendDirect(email.From, email.AllRecipients(), raw)
	case StrategyAuthRelay:
		result = t.sendRelay(email.From, email.AllRecipients(), raw, true)
	default:
		result = t.sendRelay(email.From, email.AllRecipients(), raw, false)
	}
	result.ProviderMessageID = messageID
	return result
}

// sendRelay delivers through the configured relay. With requireAuth the
// connection must upgrade to TLS and authenticate before MAIL FROM.
func (t *Transport) sendRelay(from string, recipients []string, raw []byte, requireAuth bool) DeliveryResult {
	sess, err := dialSession(t.config.Relay, t.config.Timeouts, t.config.HeloDomain)
	if err != nil {
		return resultFromError(err)
	}
	defer sess.quit()

	if err := sess.hello(); err != nil {
		return resultFromError(err)
	}
	if err := sess.startTLS(requireAuth || t.config.Relay.UseSTARTTLS); err != nil {
		return resultFromError(err)
	}
	if requireAuth && t.config.Relay.Username == "" {
		return resultFromError(&AuthenticationError{Mechanism: "none", Reply: "relay credentials not configured"})
	}
	if err := sess.authenticate(); err != nil {
		return resultFromError(err)
	}

	return resultFromTransaction(sess.transact(from, recipients, raw))
}

// sendDirect resolves each recipient domain's MX hosts and tries them in
// ascending priority until one accepts the whole transaction.
func (t *Transport) sendDirect(from string, recipients []string, raw []byte) DeliveryResult {
	byDomain := map[string][]string{}
	for _, rcpt := range recipients {
		at := strings.LastIndex(rcpt, "@")
		if at < 0 {
			continue
		}
		domain := strings.ToLower(rcpt[at+1:])
		byDomain[domain] = append(byDomain[domain], rcpt)
	}

	combined := DeliveryResult{Success: true}
	var responses []string
	for domain, rcpts := range byDomain {
		res := t.sendToDomain(from, domain, rcpts, raw)
		combined.Accepted = append(combined.Accepted, res.Accepted...)
		combined.Rejected = append(combined.Rejected, res.Rejected...)
		responses = append(responses, fmt.Sprintf("%s: %s", domain, res.Response))
		if !res.Success {
			combined.Success = false
			combined.Err = res.Err
			combined.ShouldRetry = combined.ShouldRetry || res.ShouldRetry
			combined.HardBounce = combined.HardBounce || res.HardBounce
		}
	}
	combined.Response = strings.Join(responses, "; ")
	return combined
}

func (t *Transport) sendToDomain(from, domain string, recipients []string, raw []byte) DeliveryResult {
	records, err := t.resolver.LookupMX(domain)
	if err != nil || len(records) == 0 {
		if err == nil {
			err = fmt.Errorf("no MX records for %s", domain)
		}
		connErr := &ConnectionError{Op: "mx lookup", Err: err}
		return DeliveryResult{Err: connErr, ShouldRetry: true, Response: connErr.Error()}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })

	var last DeliveryResult
	for _, mx := range records {
		server := ServerConfig{Host: strings.TrimSuffix(mx.Host, "."), Port: t.config.MXPort}
		sess, err := dialSession(server, t.config.Timeouts, t.config.HeloDomain)
		if err != nil {
			last = resultFromError(err)
			continue
		}

		if err := sess.hello(); err != nil {
			sess.close()
			last = resultFromError(err)
			continue
		}
		// STARTTLS when offered; plaintext fallback is acceptable for
		// direct delivery.
		if err := sess.startTLS(false); err != nil {
			sess.close()
			last = resultFromError(err)
			continue
		}

		res := resultFromTransaction(sess.transact(from, recipients, raw))
		sess.quit()
		if res.Success || !res.ShouldRetry {
			return res
		}
		last = res
	}
	return last
}

// resultFromTransaction maps the transaction outcome onto retry and
// bounce flags.
func resultFromTransaction(final Reply, accepted, rejected []string, err error) DeliveryResult {
	if err == nil {
		return DeliveryResult{
			Success:  true,
			Response: final.Text(),
			Accepted: accepted,
			Rejected: rejected,
		}
	}
	res := resultFromError(err)
	if final.Code != 0 {
		res.Response = fmt.Sprintf("%d %s", final.Code, final.Text())
		res.ShouldRetry, res.HardBounce = classifyReply(final)
	}
	res.Accepted = accepted
	res.Rejected = rejected
	return res
}

// resultFromError maps the error taxonomy onto a result. Network errors
// retry, authentication errors do not.
func resultFromError(err error) DeliveryResult {
	res := DeliveryResult{Err: err, Response: err.Error()}
	switch e := err.(type) {
	case *ConnectionError:
		res.ShouldRetry = true
	case *ProtocolError:
		res.ShouldRetry = e.Temporary()
		if !res.ShouldRetry {
			if IsSoftBounceText(e.Message) {
				res.ShouldRetry = true
			} else {
				res.HardBounce = IsHardBounceText(e.Message)
			}
		}
	case *AuthenticationError:
		res.ShouldRetry = false
	default:
		res.ShouldRetry = true
	}
	return res
}
