package wire

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON and UnmarshalJSON back the JSON content-type path of
// services/lightdb's typed helpers (spec §4.9 "typed helpers parse int,
// bool, float, string from JSON"), using the teacher's drop-in JSON codec
// instead of encoding/json directly.
func MarshalJSON(v interface{}) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

func UnmarshalJSON(data []byte, v interface{}) error {
	return jsonAPI.Unmarshal(data, v)
}

// PeekSequence extracts a top-level "seq" field from a JSON document
// without unmarshaling into a typed struct, the same shortcut the
// teacher's coap_observe_sync.go takes when scraping "next_batch" out of a
// /sync response body.
func PeekSequence(jsonDoc []byte) (int64, bool) {
	r := gjson.GetBytes(jsonDoc, "seq")
	if !r.Exists() {
		return 0, false
	}
	return r.Int(), true
}

// CBORToJSON decodes CBOR bytes into a generic value and re-encodes it as
// JSON, so callers that only need a cheap field peek (PeekSequence) can
// avoid unmarshaling into a fully typed struct.
func CBORToJSON(cborDoc []byte) ([]byte, error) {
	var v interface{}
	if err := Unmarshal(cborDoc, &v); err != nil {
		return nil, err
	}
	return jsonAPI.Marshal(v)
}
