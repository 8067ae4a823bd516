package adapter

import (
	"encoding/base64"
	"encoding/json"
	"net/url"

	"github.com/gowebpki/jcs"
)

// JSON marshals ledger events and metadata documents
type JSON interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JCS canonicalizes JSON (RFC 8785) so identical metadata pins to the same CID
type JCS interface {
	Transform(data []byte) ([]byte, error)
}

// Base64 decodes the payload of data: URIs
type Base64 interface {
	// Decode accepts both padded and unpadded standard encodings
	Decode(data string) ([]byte, error)
	// PercentDecode decodes the percent-encoded payload of a non-base64 data URI
	PercentDecode(data string) ([]byte, error)
}

type stdJSON struct{}

func NewJSON() JSON { return stdJSON{} }

func (stdJSON) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (stdJSON) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type canonicalJSON struct{}

func NewJCS() JCS { return canonicalJSON{} }

func (canonicalJSON) Transform(data []byte) ([]byte, error) { return jcs.Transform(data) }

type dataURIDecoder struct{}

func NewBase64() Base64 { return dataURIDecoder{} }

func (dataURIDecoder) Decode(data string) ([]byte, error) {
	if out, err := base64.StdEncoding.DecodeString(data); err == nil {
		return out, nil
	}
	return base64.RawStdEncoding.DecodeString(data)
}

func (dataURIDecoder) PercentDecode(data string) ([]byte, error) {
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}
