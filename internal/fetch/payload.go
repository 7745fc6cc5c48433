package fetch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
)

// PayloadKind tags a decoded payload with its content kind.
type PayloadKind string

const (
	// PayloadJSON is a decoded JSON document.
	PayloadJSON PayloadKind = "json"
	// PayloadCSV is a parsed CSV table.
	PayloadCSV PayloadKind = "csv"
	// PayloadXML is a well-formed XML document kept as text.
	PayloadXML PayloadKind = "xml"
	// PayloadRaw is opaque text with its content type attached.
	PayloadRaw PayloadKind = "raw"
)

// Payload is a decoded response tagged with its content kind. The fetch
// fabric never inspects payload semantics beyond the tag; downstream
// clients apply their own transform hooks.
//
// Exactly one of JSON, CSV, or Text is populated depending on Kind
// (XML and Raw both use Text).
type Payload struct {
	Kind        PayloadKind `json:"kind"`
	ContentType string      `json:"content_type"`
	JSON        any         `json:"json,omitempty"`
	CSV         [][]string  `json:"csv,omitempty"`
	Text        string      `json:"text,omitempty"`
}

// DecodePayload decodes a response body by its declared content type.
// A decode failure is always permanent: the bytes arrived correctly and
// decoding is deterministic, so it is never retried.
func DecodePayload(body []byte, contentType string) (*Payload, error) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch {
	case isJSONMediaType(mediaType):
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, decodeErr(fmt.Errorf("invalid JSON: %w", err))
		}
		return &Payload{Kind: PayloadJSON, ContentType: contentType, JSON: doc}, nil

	case mediaType == "text/csv" || mediaType == "application/csv":
		reader := csv.NewReader(bytes.NewReader(body))
		reader.FieldsPerRecord = -1
		records, err := reader.ReadAll()
		if err != nil {
			return nil, decodeErr(fmt.Errorf("invalid CSV: %w", err))
		}
		return &Payload{Kind: PayloadCSV, ContentType: contentType, CSV: records}, nil

	case isXMLMediaType(mediaType):
		if err := checkWellFormedXML(body); err != nil {
			return nil, decodeErr(fmt.Errorf("invalid XML: %w", err))
		}
		return &Payload{Kind: PayloadXML, ContentType: contentType, Text: string(body)}, nil

	default:
		return &Payload{Kind: PayloadRaw, ContentType: contentType, Text: string(body)}, nil
	}
}

// isJSONMediaType matches application/json and structured +json types.
func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" ||
		mediaType == "text/json" ||
		strings.HasSuffix(mediaType, "+json")
}

// isXMLMediaType matches text/xml, application/xml, and +xml types.
func isXMLMediaType(mediaType string) bool {
	return mediaType == "text/xml" ||
		mediaType == "application/xml" ||
		strings.HasSuffix(mediaType, "+xml")
}

// checkWellFormedXML streams the document once to verify it parses.
// The text itself is kept verbatim for downstream parsers.
func checkWellFormedXML(body []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	for {
		_, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// encodePayload serializes a payload for cache storage.
func encodePayload(p *Payload) ([]byte, error) {
	return json.Marshal(p)
}

// decodeCachedPayload deserializes a cached payload envelope.
func decodeCachedPayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode cached payload: %w", err)
	}
	return &p, nil
}
