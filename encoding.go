package main

import (
	"bytes"
	"mime"
	"net/http"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Encodings tried in order when the server does not declare one. Sina pages
// are GBK, HKEX pages are UTF-8 or Big5.
var trialEncodings = []string{"utf-8", "gbk", "gb18030", "big5"}

const fallbackEncoding = "utf-8"

// Decoded is the text of a fetched page. Valid is false when bytes had to be
// replaced with U+FFFD.
type Decoded struct {
	Text     string
	Encoding string
	Valid    bool
}

// DecodeBody turns a response body into text. It never fails: the declared
// charset wins, then the first trial encoding that round-trips the bytes,
// then UTF-8 with replacement characters.
func DecodeBody(raw []byte, header http.Header) Decoded {
	if label := declaredCharset(header); label != "" {
		if enc, name := charset.Lookup(label); enc != nil {
			if text, err := enc.NewDecoder().Bytes(raw); err == nil {
				return Decoded{Text: string(text), Encoding: name, Valid: roundTrips(enc, raw)}
			}
		}
	}

	for _, name := range trialEncodings {
		enc, err := htmlindex.Get(name)
		if err != nil {
			continue
		}
		if text, ok := decodeLossless(enc, raw); ok {
			return Decoded{Text: text, Encoding: name, Valid: true}
		}
	}

	return Decoded{Text: replaceInvalid(raw), Encoding: fallbackEncoding}
}

func declaredCharset(header http.Header) string {
	if header == nil {
		return ""
	}
	ct := header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func decodeLossless(enc encoding.Encoding, raw []byte) (string, bool) {
	text, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	back, err := enc.NewEncoder().Bytes(text)
	if err != nil || !bytes.Equal(back, raw) {
		return "", false
	}
	return string(text), true
}

func roundTrips(enc encoding.Encoding, raw []byte) bool {
	_, ok := decodeLossless(enc, raw)
	return ok
}

// replaceInvalid decodes UTF-8, substituting U+FFFD for every invalid byte.
func replaceInvalid(raw []byte) string {
	text, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return string(bytes.ToValidUTF8(raw, []byte("\ufffd")))
	}
	return string(text)
}
