package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/b2bflash/crawler/pkg/models"
)

// Kind is the closed error taxonomy emitted by the HTTP adapter. Callers
// branch on Kind, never on error strings.
type Kind string

const (
	KindDNS          Kind = "dns"
	KindTimeout      Kind = "timeout"
	KindConnection   Kind = "connection"
	KindSSL          Kind = "ssl_error"
	KindNoResponse   Kind = "no_response"
	KindEmptyContent Kind = "empty_content"
	KindNotFound     Kind = "not_found"
	KindRateLimit    Kind = "rate_limit"
	KindProtection   Kind = "protection"
	KindCircuitOpen  Kind = "circuit_open"
	KindConcurrency  Kind = "concurrency_timeout"
	KindOther        Kind = "other"
)

// Retryable reports whether the scraper should retry within a strategy.
func (k Kind) Retryable() bool {
	switch k {
	case KindDNS, KindTimeout, KindConnection, KindSSL, KindNoResponse, KindRateLimit, KindOther:
		return true
	}
	return false
}

// CountsForBreaker reports whether the failure signals infrastructure fault
// rather than site-side policy.
func (k Kind) CountsForBreaker() bool {
	switch k {
	case KindDNS, KindTimeout, KindConnection, KindSSL, KindNoResponse, KindOther:
		return true
	}
	return false
}

// ProxyRelated reports whether the retry path should reselect a proxy.
func (k Kind) ProxyRelated() bool {
	switch k {
	case KindConnection, KindNoResponse, KindTimeout:
		return true
	}
	return false
}

// Error is the classified fetch failure.
type Error struct {
	Kind       Kind
	URL        string
	Protection models.Protection // set when Kind == KindProtection
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from any error, defaulting to OTHER.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindOther
}

// Classify maps a transport error to its Kind. Classification happens here,
// next to the HTTP client, so nothing downstream inspects error text.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return KindConnection
	}

	var (
		recordErr    tls.RecordHeaderError
		verifyErr    *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		certInvalid  x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalid) {
		return KindSSL
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	return KindOther
}
