package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"time"

	perrors "proctorlink/pkg/errors"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the channel needs. Narrowed
// for test fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer opens the primary path.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// gorillaDialer is the production dialer.
type gorillaDialer struct {
	handshakeTimeout time.Duration
}

// NewDialer returns the gorilla/websocket-backed dialer.
func NewDialer(handshakeTimeout time.Duration) Dialer {
	return &gorillaDialer{handshakeTimeout: handshakeTimeout}
}

func (d *gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return conn, nil
}

// classifyDialError maps a handshake failure onto the transport taxonomy so
// the channel can decide between retry and immediate fallback.
func classifyDialError(err error) error {
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalid) ||
		strings.Contains(err.Error(), "x509") {
		return perrors.NewTransportError(perrors.TransportCertificate, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return perrors.NewTransportError(perrors.TransportTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return perrors.NewTransportError(perrors.TransportTimeout, err)
	}

	return perrors.NewTransportError(perrors.TransportAbnormalClosure, err)
}
