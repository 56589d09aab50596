package dkim

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Verify re-canonicalizes a signed message and checks its DKIM-Signature
// against the given public key. It is an independent pass over the raw
// bytes, used to prove round-trip correctness of the signer.
func Verify(raw []byte, publicKeyPEM string) error {
	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return err
	}

	headerBlock, body := splitMessage(string(raw))
	fields := parseHeaders(headerBlock)

	sigField, ok := lastHeader(fields, "dkim-signature")
	if !ok {
		return fmt.Errorf("no DKIM-Signature header")
	}
	tags := parseSignatureTags(sigField.value)

	if tags["a"] != "rsa-sha256" {
		return fmt.Errorf("unsupported algorithm %q", tags["a"])
	}

	bodyHash := sha256.Sum256([]byte(CanonicalizeBody(body)))
	if base64.StdEncoding.EncodeToString(bodyHash[:]) != tags["bh"] {
		return fmt.Errorf("body hash mismatch")
	}

	var signInput strings.Builder
	for _, name := range strings.Split(tags["h"], ":") {
		field, ok := lastHeader(fields, strings.TrimSpace(name))
		if !ok {
			return fmt.Errorf("signed header %q missing", name)
		}
		signInput.WriteString(canonicalizeHeader(field.name, field.value))
	}

	// Reconstruct the signature header with b= emptied.
	unsigned := stripSignatureValue(sigField.value)
	signInput.WriteString(strings.TrimSuffix(canonicalizeHeader("DKIM-Signature", unsigned), "\r\n"))

	sig, err := base64.StdEncoding.DecodeString(unfoldBase64(tags["b"]))
	if err != nil {
		return fmt.Errorf("decoding b= value: %w", err)
	}

	digest := sha256.Sum256([]byte(signInput.String()))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

func parseSignatureTags(value string) map[string]string {
	tags := map[string]string{}
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.Index(part, "=")
		if eq < 0 {
			continue
		}
		tags[strings.TrimSpace(part[:eq])] = strings.TrimSpace(part[eq+1:])
	}
	return tags
}

// stripSignatureValue empties the b= tag while keeping everything else
// byte-for-byte, which is what the signer signed.
func stripSignatureValue(value string) string {
	idx := strings.Index(value, "b=")
	for idx > 0 && !(value[idx-1] == ' ' || value[idx-1] == '\t' || value[idx-1] == ';') {
		next := strings.Index(value[idx+2:], "b=")
		if next < 0 {
			return value
		}
		idx = idx + 2 + next
	}
	if idx < 0 {
		return value
	}
	return value[:idx+2]
}

func unfoldBase64(b string) string {
	b = strings.ReplaceAll(b, "\r", "")
	b = strings.ReplaceAll(b, "\n", "")
	b = strings.ReplaceAll(b, "\t", "")
	return strings.ReplaceAll(b, " ", "")
}
