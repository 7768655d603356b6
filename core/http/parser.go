package http

import (
	"bytes"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/http/httpguts"
)

// ParseRequest decodes a single request from raw bytes. Only the method and
// path tokens are mandatory: headers are parsed best-effort and a missing
// body, or a read that stopped short, leaves the corresponding fields empty.
func ParseRequest(data []byte) (*Request, error) {
	line, rest := data, []byte(nil)
	if i := bytes.IndexByte(data, '\n'); i != -1 {
		line, rest = data[:i], data[i+1:]
	}

	fields := strings.Fields(string(trimCR(line)))
	if len(fields) < 2 {
		return nil, errors.Wrapf(ErrMalformedRequestLine, "request line %q", trimCR(line))
	}

	req := &Request{
		Method:  fields[0],
		Path:    fields[1],
		Headers: make(Header),
	}
	if len(fields) > 2 {
		req.Proto = fields[2]
	}

	if idx := strings.IndexByte(req.Path, '?'); idx != -1 {
		req.Query = parseQuery(req.Path[idx+1:])
		req.Path = req.Path[:idx]
	}

	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i == -1 {
			// truncated header line
			parseHeaderLine(req.Headers, trimCR(rest))
			break
		}

		hl := trimCR(rest[:i])
		rest = rest[i+1:]

		if len(hl) == 0 {
			if len(rest) > 0 {
				req.Body = bytes.Clone(rest)
			}
			break
		}
		parseHeaderLine(req.Headers, hl)
	}

	return req, nil
}

// parseHeaderLine parses one "key: value" line; anything else is ignored
func parseHeaderLine(h Header, line []byte) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return
	}

	key := string(bytes.TrimSpace(line[:colon]))
	value := string(bytes.TrimSpace(line[colon+1:]))
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return
	}
	h.add(key, value)
}

// parseQuery parses query parameters, keeping the first value of a key
func parseQuery(raw string) map[string]string {
	query := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if _, ok := query[k]; !ok {
			query[k] = v
		}
	}
	return query
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
