// Package wire holds the CBOR codec shared by every service (spec §4.9):
// LightDB, RPC, Settings, Logs and NetInfo all exchange CBOR maps over the
// session. It is grounded on the teacher's cbor_codec.go/cbor.go, trimmed
// to the parts this module actually needs — golioth's wire maps use plain
// string keys, so the enum-key translation tables cbor.go builds for
// Matrix's numeric-key optimization are dropped (see DESIGN.md); the
// canonical-encoding path is kept, since services/logs and services/rpc
// use it for deterministic test fixtures.
package wire

import (
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/matrix-org/gomatrixserverlib"
)

var (
	canonicalEncMode cbor.EncMode
	genericDecMode   cbor.DecMode
)

func init() {
	var err error
	canonicalEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("wire: failed to build canonical CBOR encoder: " + err.Error())
	}
	// golioth's wire maps use plain string keys; decoding into a generic
	// interface{} should produce map[string]interface{}, not the default
	// map[interface{}]interface{}, so downstream JSON re-encoding (see
	// CBORToJSON) never trips over a non-string map key.
	genericDecMode, err = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]interface{}{})}.DecMode()
	if err != nil {
		panic("wire: failed to build generic CBOR decoder: " + err.Error())
	}
}

// Marshal encodes v as CBOR using the default (non-canonical) mode, the
// common case for request/response bodies.
func Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

// MarshalCanonical encodes v as deterministic CBOR (RFC 7049 §3.9), used
// where byte-for-byte wire stability matters (test fixtures, hashes over
// encoded content).
func MarshalCanonical(v interface{}) ([]byte, error) {
	return canonicalEncMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into v. When v is a generic interface{},
// nested maps decode as map[string]interface{} (see genericDecMode) rather
// than cbor's default map[interface{}]interface{}.
func Unmarshal(data []byte, v interface{}) error {
	return genericDecMode.Unmarshal(data, v)
}

// CanonicalJSON re-encodes already-valid JSON bytes into Matrix's
// canonical form (sorted keys, no insignificant whitespace). Nothing in
// this module calls it; services/logs and services/rpc get deterministic
// wire bytes from MarshalCanonical instead.
func CanonicalJSON(b []byte) ([]byte, error) {
	return gomatrixserverlib.CanonicalJSON(b)
}
