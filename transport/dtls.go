package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/plgd-dev/go-coap/v2/dtls"
	"github.com/plgd-dev/go-coap/v2/net/blockwise"
	"github.com/plgd-dev/go-coap/v2/udp/client"
	piondtls "github.com/pion/dtls/v2"
	"github.com/sirupsen/logrus"

	golcoap "github.com/golioth/golioth-firmware-sdk-go/coap"
)

// Params mirrors the teacher's mobile.ConnectionParams, renamed to the
// vocabulary spec.md §4.3/§6 uses (flight interval, keepalive, ACK timeout,
// max retransmits, blockwise SZX). These are the "configuration knobs"
// spec §6 requires be adjustable without recompiling client code.
type Params struct {
	InsecureSkipVerify bool

	FlightIntervalSecs int

	KeepAliveMaxRetries  int
	KeepAliveTimeoutSecs int

	TransmissionNStartSecs     int
	TransmissionACKTimeoutSecs int
	TransmissionMaxRetransmits int

	// BlockwiseSZX sets the negotiated block size for Block1/Block2
	// transfers (spec §4.7 "the minimum of the client's configured SZX and
	// the server's SZX wins").
	BlockwiseSZX    blockwise.SZX
	BlockwiseExpire time.Duration

	// ConnectionID opts into DTLS 1.2 Connection ID (spec §4.3
	// "Connection-ID ... survives a client NAT rebind without a full
	// handshake").
	ConnectionID bool
}

// DefaultParams matches the teacher's activeConnectionParams defaults,
// adjusted for a device-to-cloud session rather than a phone-to-homeserver
// one (spec §6 default table).
var DefaultParams = Params{
	InsecureSkipVerify:         false,
	FlightIntervalSecs:         2,
	KeepAliveMaxRetries:        5,
	KeepAliveTimeoutSecs:       30,
	TransmissionNStartSecs:     1,
	TransmissionACKTimeoutSecs: 8,
	TransmissionMaxRetransmits: 4,
	BlockwiseSZX:               blockwise.SZX1024,
	BlockwiseExpire:            2 * time.Minute,
	ConnectionID:               true,
}

// logAdapter routes go-coap's internal Printf-style logger through logrus,
// exactly as the teacher's mobile package does with its unexported logger
// type.
type logAdapter struct{ entry *logrus.Entry }

func (l *logAdapter) Printf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// Dial opens a DTLS session to addr using creds and returns a *client.ClientConn
// wrapped for coap.Session's consumption. addr is "host:port"; scheme-free,
// matching go-coap's dtls.Dial signature.
func Dial(ctx context.Context, addr string, creds Credentials, p Params, log *logrus.Entry) (*golcoap.GoCoapConn, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dtlsConfig, err := buildDTLSConfig(creds, p)
	if err != nil {
		return nil, golcoap.NewError(golcoap.KindInvalidFormat, "building dtls config", err)
	}

	opts := []dtls.Option{
		dtls.WithKeepAlive(uint32(p.KeepAliveMaxRetries), time.Duration(p.KeepAliveTimeoutSecs)*time.Second, func(cc interface {
			Close() error
			Context() context.Context
		}) {
		}),
		dtls.WithTransmission(
			time.Duration(p.TransmissionNStartSecs)*time.Second,
			time.Duration(p.TransmissionACKTimeoutSecs)*time.Second,
			p.TransmissionMaxRetransmits,
		),
		dtls.WithBlockwise(true, p.BlockwiseSZX, p.BlockwiseExpire),
		dtls.WithLogger(&logAdapter{entry: log}),
		dtls.WithContext(ctx),
	}

	conn, err := dtls.Dial(addr, dtlsConfig, opts...)
	if err != nil {
		return nil, golcoap.NewError(golcoap.KindIOError, fmt.Sprintf("dtls dial %s", addr), err)
	}
	return &golcoap.GoCoapConn{Underlying: conn}, nil
}

// buildDTLSConfig turns the tagged Credentials union into a *pion/dtls/v2
// Config, selecting the PSK or certificate code path the way the original
// firmware's golioth_tls.c does; CredentialTag is rejected with
// KindNotImplemented.
func buildDTLSConfig(creds Credentials, p Params) (*piondtls.Config, error) {
	base := &piondtls.Config{
		InsecureSkipVerify: p.InsecureSkipVerify,
		FlightInterval:     time.Duration(p.FlightIntervalSecs) * time.Second,
		ConnectionIDGenerator: func() []byte {
			if !p.ConnectionID {
				return nil
			}
			return piondtls.RandomCIDGenerator(8)()
		},
	}

	switch creds.Kind {
	case CredentialPSK:
		base.PSK = func(hint []byte) ([]byte, error) {
			return creds.PSK.Key, nil
		}
		base.PSKIdentityHint = []byte(creds.PSK.Identity)
		base.CipherSuites = []piondtls.CipherSuiteID{
			piondtls.TLS_PSK_WITH_AES_128_CCM_8,
			piondtls.TLS_PSK_WITH_AES_128_GCM_SHA256,
		}
		return base, nil

	case CredentialPKI:
		cert, err := tls.X509KeyPair(creds.PKI.ClientCert, creds.PKI.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("parsing client cert/key: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(creds.PKI.CACert) {
			return nil, fmt.Errorf("no CA certificates parsed from PKI.CACert")
		}
		if len(creds.PKI.SecondaryCA) > 0 {
			pool.AppendCertsFromPEM(creds.PKI.SecondaryCA)
		}
		base.Certificates = []tls.Certificate{cert}
		base.RootCAs = pool
		base.ServerName = creds.PKI.ServerNameTLS
		base.CipherSuites = []piondtls.CipherSuiteID{
			piondtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			piondtls.TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8,
		}
		return base, nil

	case CredentialTag:
		return nil, golcoap.NewError(golcoap.KindNotImplemented, "keystore-tag credentials require a platform-specific provider", nil)

	default:
		return nil, fmt.Errorf("unknown credential kind %d", creds.Kind)
	}
}
