package main

import (
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/thaingo/dre/rulebook"
)

const headerContentType = "Content-Type"

// requestExtractor reads the request body once and answers questions
// about the body and headers. No retries; the body is consumed at
// construction.
type requestExtractor struct {
	header http.Header
	body   []byte
}

func newRequestExtractor(r *http.Request) (*requestExtractor, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, rulebook.Invalid("failed to read request body: %v", err)
	}
	return &requestExtractor{header: r.Header, body: body}, nil
}

// Content decodes the body under the named IANA charset and returns it
// as a string. Fails with a validation error when the charset is
// unknown or the body is not valid under it.
func (e *requestExtractor) Content(charset string) (string, error) {
	if strings.EqualFold(charset, "utf-8") {
		if !utf8.Valid(e.body) {
			return "", rulebook.Invalid("request body is not valid UTF-8")
		}
		return string(e.body), nil
	}

	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return "", rulebook.Invalid("unsupported charset '%s'", charset)
	}
	decoded, err := enc.NewDecoder().Bytes(e.body)
	if err != nil {
		return "", rulebook.Invalid("failed to decode request body as %s: %v", charset, err)
	}
	return string(decoded), nil
}

// IsContentType compares the declared content type against candidate,
// case-insensitively, ignoring parameters such as charset.
func (e *requestExtractor) IsContentType(candidate string) bool {
	declared, _, err := mime.ParseMediaType(e.header.Get(headerContentType))
	if err != nil {
		return false
	}
	return strings.EqualFold(declared, candidate)
}

// Header returns the named header, or def when absent.
func (e *requestExtractor) Header(name, def string) string {
	if v := e.header.Get(name); v != "" {
		return v
	}
	return def
}
