package dkim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	rsaKeyBits      = 2048
	DefaultSelector = "mail"
)

// KeyPair holds freshly generated signing material together with the
// DNS TXT value the operator has to publish.
type KeyPair struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
	DNSRecord     string
}

func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	return &KeyPair{
		PrivateKeyPEM: string(privPEM),
		PublicKeyPEM:  string(pubPEM),
		DNSRecord:     "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pubDER),
	}, nil
}

// SPFRecordFor returns the recommended SPF TXT value for a sending host.
func SPFRecordFor(sendingHost string) string {
	if sendingHost == "" {
		return "v=spf1 a mx ~all"
	}
	return "v=spf1 a mx include:" + sendingHost + " ~all"
}

// DMARCRecordFor returns the recommended DMARC TXT value. Reports go to
// the postmaster of the domain itself.
func DMARCRecordFor(domain string) string {
	return "v=DMARC1; p=quarantine; rua=mailto:postmaster@" + domain + "; pct=100"
}

// DKIMRecordName returns the DNS name the TXT record is published at.
func DKIMRecordName(selector, domain string) string {
	return selector + "._domainkey." + domain
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
