package c2pa

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCBOR = "application/cbor"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("c2pa: CBOR encoder initialization failed: " + err.Error())
	}

	// Assertion data is decoded into map[string]any, never into
	// map[interface{}]interface{}, so it stays compatible with encoding/json.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("c2pa: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeCBOR encodes v with the deterministic encoder used for manifests.
func EncodeCBOR(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// DecodeCBOR decodes data into v with the manifest decoder settings.
func DecodeCBOR(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// MarshalCBOR encodes a manifest with deterministic CBOR.
func MarshalCBOR(m *Manifest) ([]byte, error) {
	return EncodeCBOR(m)
}

// UnmarshalCBOR decodes a CBOR-encoded manifest.
func UnmarshalCBOR(data []byte) (*Manifest, error) {
	var m Manifest
	if err := DecodeCBOR(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Decode parses a verifier response body according to its content type.
// JSON is assumed when the content type is empty.
func Decode(contentType string, body []byte) (*Manifest, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case contentTypeCBOR:
		m, err := UnmarshalCBOR(body)
		if err != nil {
			return nil, fmt.Errorf("decode cbor manifest: %w", err)
		}
		return m, nil
	case contentTypeJSON, "":
		var m Manifest
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode json manifest: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unsupported manifest content type %q", contentType)
	}
}
