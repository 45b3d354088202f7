package pipeline

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/nghyane/gameday-net/internal/apierr"
)

// QueryItem is one query parameter. Order and duplicates are preserved.
type QueryItem struct {
	Name  string
	Value string
}

// Descriptor describes one logical request. It is a value: the With* helpers
// return modified copies and never touch the receiver.
type Descriptor struct {
	Method       string
	Path         string
	Query        []QueryItem
	Body         any
	Header       http.Header
	RequiresAuth bool
}

func Get(path string) Descriptor    { return Descriptor{Method: http.MethodGet, Path: path} }
func Post(path string) Descriptor   { return Descriptor{Method: http.MethodPost, Path: path} }
func Put(path string) Descriptor    { return Descriptor{Method: http.MethodPut, Path: path} }
func Patch(path string) Descriptor  { return Descriptor{Method: http.MethodPatch, Path: path} }
func Delete(path string) Descriptor { return Descriptor{Method: http.MethodDelete, Path: path} }

// WithQuery appends a query parameter.
func (d Descriptor) WithQuery(name, value string) Descriptor {
	q := make([]QueryItem, len(d.Query), len(d.Query)+1)
	copy(q, d.Query)
	d.Query = append(q, QueryItem{Name: name, Value: value})
	return d
}

// WithBody sets the request body. Bodies are encoded with snake_case keys;
// []byte and json.RawMessage are sent verbatim.
func (d Descriptor) WithBody(body any) Descriptor {
	d.Body = body
	return d
}

// WithHeader adds an extra header value.
func (d Descriptor) WithHeader(key, value string) Descriptor {
	h := d.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Add(key, value)
	d.Header = h
	return d
}

// Authenticated marks the request as needing a bearer token.
func (d Descriptor) Authenticated() Descriptor {
	d.RequiresAuth = true
	return d
}

func (d Descriptor) validate() error {
	switch d.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return apierr.New(apierr.KindInvalidRequest, errInvalid("unsupported method "+d.Method))
	}
	if !strings.HasPrefix(d.Path, "/") {
		return apierr.New(apierr.KindInvalidRequest, errInvalid("path must start with /"))
	}
	for _, item := range d.Query {
		if item.Name == "" {
			return apierr.New(apierr.KindInvalidRequest, errInvalid("empty query parameter name"))
		}
	}
	return nil
}

// rawQuery encodes Query in insertion order, keeping duplicates.
func (d Descriptor) rawQuery() string {
	if len(d.Query) == 0 {
		return ""
	}
	var b strings.Builder
	for i, item := range d.Query {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(item.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(item.Value))
	}
	return b.String()
}

// target resolves the descriptor against base.
func (d Descriptor) target(base *url.URL) *url.URL {
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + d.Path
	u.RawPath = ""
	u.RawQuery = d.rawQuery()
	return &u
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }
