// Package transport implements the DTLS session lifecycle (spec §4.3,
// component C4): dialing the server, performing the handshake with PSK or
// certificate credentials, optional Connection-ID, and surfacing
// handshake/fatal-alert failures so the scheduler can reconnect. It is
// built directly on github.com/pion/dtls/v2 and dials through
// github.com/plgd-dev/go-coap/v2/dtls, the same pairing the teacher's
// mobile/client.go and cmd/coap use.
package transport

// CredentialKind tags which variant of Credentials is populated (spec §9
// "the credential type must be a tagged variant {Psk, Pki, Tag}").
type CredentialKind int

const (
	CredentialPSK CredentialKind = iota
	CredentialPKI
	CredentialTag
)

// PSKCredentials is the pre-shared-key variant (spec §6 "PSK: ASCII
// identity, opaque key up to 64 bytes").
type PSKCredentials struct {
	Identity string
	Key      []byte
}

// PKICredentials is the certificate variant, with an optional second CA for
// rotation (spec §6). buildDTLSConfig parses every field as PEM
// (tls.X509KeyPair, AppendCertsFromPEM); DER-encoded input is not accepted.
type PKICredentials struct {
	CACert        []byte
	ClientCert    []byte
	ClientKey     []byte
	SecondaryCA   []byte
	ServerNameTLS string // used to validate the server certificate hostname
}

// Credentials is the tagged union spec.md §3/§9 requires. Exactly one of
// PSK/PKI/Tag is meaningful, selected by Kind.
type Credentials struct {
	Kind CredentialKind
	PSK  PSKCredentials
	PKI  PKICredentials
	// Tag is a build-time "credential tag" integer that lets a host OS
	// keystore supply the material instead of inline bytes (spec §6).
	Tag int
}

// NewPSKCredentials builds a PSK-tagged Credentials value.
func NewPSKCredentials(identity string, key []byte) Credentials {
	return Credentials{Kind: CredentialPSK, PSK: PSKCredentials{Identity: identity, Key: key}}
}

// NewPKICredentials builds a PKI-tagged Credentials value.
func NewPKICredentials(ca, clientCert, clientKey []byte, serverName string) Credentials {
	return Credentials{Kind: CredentialPKI, PKI: PKICredentials{CACert: ca, ClientCert: clientCert, ClientKey: clientKey, ServerNameTLS: serverName}}
}

// NewTagCredentials builds a keystore-tag-referencing Credentials value.
func NewTagCredentials(tag int) Credentials {
	return Credentials{Kind: CredentialTag, Tag: tag}
}

// WithSecondaryCA attaches a rotation CA to a PKI credential (supplemented
// feature, see SPEC_FULL.md §6 "certificate rotation").
func (c Credentials) WithSecondaryCA(secondaryCA []byte) Credentials {
	c.PKI.SecondaryCA = secondaryCA
	return c
}
