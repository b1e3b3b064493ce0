package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/siteledger/internal/webhook/domain"
)

const SignatureHeader = "Gateway-Signature"

// Signature failure reasons, used as metric labels.
const (
	reasonMissing   = "missing"
	reasonMalformed = "malformed"
	reasonStale     = "stale"
	reasonMismatch  = "mismatch"
	reasonNoSecret  = "no_secret"
)

type signatureError struct {
	reason string
}

func (e *signatureError) Error() string { return "signature " + e.reason }

func (e *signatureError) Unwrap() error { return domain.ErrSignatureInvalid }

// Sign builds a header value for body at ts.
func Sign(secret string, body []byte, ts time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), computeSignature(secret, strconv.FormatInt(ts.Unix(), 10), body))
}

// VerifySignature checks "t=<unix>,v1=<hex>" against body. Any v1 entry may
// match, so the gateway can roll secrets.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(secret) == "" {
		return &signatureError{reason: reasonNoSecret}
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return &signatureError{reason: reasonMissing}
	}

	timestamp, signatures := parseSignature(header)
	if timestamp == "" || len(signatures) == 0 {
		return &signatureError{reason: reasonMalformed}
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &signatureError{reason: reasonMalformed}
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return &signatureError{reason: reasonStale}
		}
	}

	expected := computeSignature(secret, timestamp, body)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return &signatureError{reason: reasonMismatch}
}

func computeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	return timestamp, signatures
}
