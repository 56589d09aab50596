package dkim

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

const signatureTTL = 7 * 24 * time.Hour

// signedHeaderList is the fixed set of headers covered by the signature,
// in signing order. Only headers present in the message are included.
var signedHeaderList = []string{
	"from",
	"to",
	"subject",
	"date",
	"message-id",
	"content-type",
	"mime-version",
}

// Store is the persistence the signer needs for domain configs.
type Store interface {
	GetDomainConfig(domain string) (*types.DomainConfig, error)
	SaveDomainConfig(cfg *types.DomainConfig) error
}

// Signer signs outbound messages with the per-domain keys from the
// store. Private keys are cached in memory after first use and
// invalidated on rotation.
type Signer struct {
	store       Store
	sendingHost string

	mu       sync.RWMutex
	keyCache map[string]*rsa.PrivateKey
}

func NewSigner(store Store, sendingHost string) *Signer {
	return &Signer{
		store:       store,
		sendingHost: sendingHost,
		keyCache:    make(map[string]*rsa.PrivateKey),
	}
}

// SetupDomain generates a keypair for the domain, persists the config
// and returns it so the operator can publish the three DNS records.
func (s *Signer) SetupDomain(domain string) (*types.DomainConfig, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, fmt.Errorf("empty domain")
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cfg := &types.DomainConfig{
		Domain:         domain,
		DKIMSelector:   DefaultSelector,
		DKIMPrivateKey: kp.PrivateKeyPEM,
		DKIMPublicKey:  kp.PublicKeyPEM,
		DKIMRecord:     kp.DNSRecord,
		SPFRecord:      SPFRecordFor(s.sendingHost),
		DMARCRecord:    DMARCRecordFor(domain),
		HourResetAt:    now,
		DayResetAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing, err := s.store.GetDomainConfig(domain); err == nil && existing != nil {
		cfg.ID = existing.ID
		cfg.HourlyLimit = existing.HourlyLimit
		cfg.DailyLimit = existing.DailyLimit
		cfg.CreatedAt = existing.CreatedAt
	}
	if err := s.store.SaveDomainConfig(cfg); err != nil {
		return nil, err
	}

	s.invalidate(domain)
	return cfg, nil
}

// RotateKeys replaces the domain's keypair and drops the cached key.
func (s *Signer) RotateKeys(domain string) (*types.DomainConfig, error) {
	return s.SetupDomain(domain)
}

// DNSRecords returns the records the operator has to publish.
func (s *Signer) DNSRecords(domain string) (map[string]string, error) {
	cfg, err := s.store.GetDomainConfig(domain)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		DKIMRecordName(cfg.DKIMSelector, cfg.Domain): cfg.DKIMRecord,
		cfg.Domain:            cfg.SPFRecord,
		"_dmarc." + cfg.Domain: cfg.DMARCRecord,
	}, nil
}

// VerifyDomain reports configuration completeness. Live DNS lookup is an
// external collaborator; the flags are what the stored config claims.
func (s *Signer) VerifyDomain(domain string) (dkimOK, spfOK, dmarcOK bool, err error) {
	cfg, err := s.store.GetDomainConfig(domain)
	if err != nil {
		return false, false, false, err
	}
	return cfg.DKIMVerified && cfg.DKIMPrivateKey != "",
		cfg.SPFVerified && cfg.SPFRecord != "",
		cfg.DMARCVerified && cfg.DMARCRecord != "",
		nil
}

// Sign prepends a DKIM-Signature header to the raw message. Signing is
// fail-open: with no key configured, or on any signing error at the
// caller's discretion, the message goes out unsigned rather than not at
// all.
func (s *Signer) Sign(raw []byte, domain string) ([]byte, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	key, selector, err := s.privateKey(domain)
	if err != nil {
		slog.Warn("sending unsigned, no usable DKIM key", slog.String("domain", domain), slog.String("error", err.Error()))
		return raw, nil
	}

	header, err := buildSignature(string(raw), key, domain, selector, time.Now())
	if err != nil {
		return raw, fmt.Errorf("dkim signing: %w", err)
	}
	out := make([]byte, 0, len(header)+len(raw))
	out = append(out, header...)
	out = append(out, raw...)
	return out, nil
}

func (s *Signer) privateKey(domain string) (*rsa.PrivateKey, string, error) {
	s.mu.RLock()
	cached, ok := s.keyCache[domain]
	s.mu.RUnlock()

	cfg, err := s.store.GetDomainConfig(domain)
	if err != nil {
		return nil, "", err
	}
	if cfg == nil || cfg.DKIMPrivateKey == "" {
		return nil, "", fmt.Errorf("no DKIM key configured for %s", domain)
	}
	if ok {
		return cached, cfg.DKIMSelector, nil
	}

	key, err := parsePrivateKey(cfg.DKIMPrivateKey)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	s.keyCache[domain] = key
	s.mu.Unlock()
	return key, cfg.DKIMSelector, nil
}

func (s *Signer) invalidate(domain string) {
	s.mu.Lock()
	delete(s.keyCache, domain)
	s.mu.Unlock()
}

// buildSignature assembles the complete "DKIM-Signature: ...\r\n" header
// for the given message.
func buildSignature(raw string, key *rsa.PrivateKey, domain, selector string, now time.Time) (string, error) {
	headerBlock, body := splitMessage(raw)
	fields := parseHeaders(headerBlock)

	bodyHash := sha256.Sum256([]byte(CanonicalizeBody(body)))
	bh := base64.StdEncoding.EncodeToString(bodyHash[:])

	var signInput strings.Builder
	present := []string{}
	for _, name := range signedHeaderList {
		field, ok := lastHeader(fields, name)
		if !ok {
			continue
		}
		present = append(present, name)
		signInput.WriteString(canonicalizeHeader(field.name, field.value))
	}
	if len(present) == 0 {
		return "", fmt.Errorf("no signable headers present")
	}

	params := fmt.Sprintf(
		"v=1; a=rsa-sha256; c=relaxed/relaxed; d=%s; s=%s; t=%d; x=%d; bh=%s; h=%s; b=",
		domain,
		selector,
		now.Unix(),
		now.Add(signatureTTL).Unix(),
		bh,
		strings.Join(present, ":"),
	)

	// The signature header itself is part of the signed data, with an
	// empty b= value and no trailing CRLF.
	unsigned := canonicalizeHeader("DKIM-Signature", params)
	signInput.WriteString(strings.TrimSuffix(unsigned, "\r\n"))

	digest := sha256.Sum256([]byte(signInput.String()))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}

	return "DKIM-Signature: " + params + foldBase64(base64.StdEncoding.EncodeToString(sig)) + "\r\n", nil
}

// foldBase64 wraps the signature value at 64 characters with CRLF+TAB
// continuations so the header stays within line length limits.
func foldBase64(b64 string) string {
	if len(b64) <= 64 {
		return b64
	}
	var chunks []string
	for len(b64) > 64 {
		chunks = append(chunks, b64[:64])
		b64 = b64[64:]
	}
	if len(b64) > 0 {
		chunks = append(chunks, b64)
	}
	return strings.Join(chunks, "\r\n\t")
}
