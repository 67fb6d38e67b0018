// Copyright 2025 The fivetran-custom-connector Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api implements a declarative HTTP API client for data connectors.
// An Endpoint describes one HTTP resource - its method, path, request and
// response schemas, payload codec and pagination hooks - and a Client drives
// the request/paginate/parse loop over a set of registered endpoints,
// attaching credentials through a pluggable auth Strategy.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/JLadd-Moore/fivetran-custom-connector/schema"
	"github.com/stockparfait/errors"
)

// Params are the per-call request options. Unlike the request fields, which
// are schema-validated and end up in the query string or body, the remaining
// options steer the request itself and never leak into the field set.
type Params struct {
	// Fields is the request field set: query parameters for GET endpoints,
	// body fields otherwise.
	Fields map[string]any
	// PathArgs fill the "{name}" placeholders of the endpoint path.
	PathArgs map[string]string
	// Header adds request headers on top of whatever the codec and the auth
	// strategy set.
	Header http.Header
	// Timeout bounds a single round trip; zero means no per-call bound.
	Timeout time.Duration
	// URL overrides the endpoint path wholesale. Pagination hooks following
	// absolute next-page links and download-link endpoints set it.
	URL string
	// Query, when non-nil, replaces the computed query field set for this
	// call instead of merging with it. GET endpoints only.
	Query map[string]any
	// Body, when non-nil, replaces the computed body field set for this call
	// instead of merging with it. Non-GET endpoints only.
	Body map[string]any
}

// Merge layers p2 over p: fields, path args and headers are merged key-wise,
// scalar options are taken from p2 when set. Neither receiver nor argument
// is modified; either may be nil.
func (p *Params) Merge(p2 *Params) *Params {
	res := Params{}
	for _, q := range []*Params{p, p2} {
		if q == nil {
			continue
		}
		for k, v := range q.Fields {
			if res.Fields == nil {
				res.Fields = make(map[string]any)
			}
			res.Fields[k] = v
		}
		for k, v := range q.PathArgs {
			if res.PathArgs == nil {
				res.PathArgs = make(map[string]string)
			}
			res.PathArgs[k] = v
		}
		for k, vs := range q.Header {
			if res.Header == nil {
				res.Header = make(http.Header)
			}
			res.Header[k] = vs
		}
		if q.Timeout != 0 {
			res.Timeout = q.Timeout
		}
		if q.URL != "" {
			res.URL = q.URL
		}
		if q.Query != nil {
			res.Query = q.Query
		}
		if q.Body != nil {
			res.Body = q.Body
		}
	}
	return &res
}

// NextPageFunc computes the request params of the next page from the current
// page's raw response, or nil to terminate pagination. The returned Fields
// merge over the current field set; a non-nil Query or Body replaces it
// wholesale.
type NextPageFunc func(resp *http.Response, params *Params) (*Params, error)

// NextPageV2Func is the preferred pagination hook: it additionally receives
// the decoded payload, so pagination tokens embedded in nested structures
// (such as a next-page link field) are available without re-parsing.
type NextPageV2Func func(resp *http.Response, payload any, params *Params) (*Params, error)

// ExtractFunc turns a decoded page payload into the sequence of item records
// constituting the page.
type ExtractFunc func(payload any) ([]any, error)

// RecordFunc creates a fresh schema record; used as the request and response
// schema factories of an Endpoint.
type RecordFunc func() schema.Record

// Endpoint is the declarative description of one HTTP resource and how to
// paginate and parse it. Endpoints are built once at connector start and
// never modified afterwards.
type Endpoint struct {
	// Name is the key under which the endpoint is registered with a Client.
	// It must be unique within the client's endpoint set.
	Name string
	// Path is the absolute URL, or a path joined with the client's base URL.
	// It may contain "{name}" placeholders filled from Params.PathArgs. Empty
	// when PathBuilder or Params.URL supply the URL.
	Path string
	// Method is the HTTP verb; empty means GET.
	Method string
	// RequestSchema, when set, validates and normalizes the request field set
	// before every call; defaults declared on the record are applied.
	RequestSchema RecordFunc
	// ResponseSchema, when set, validates every decoded JSON payload.
	ResponseSchema RecordFunc
	// DefaultParams are merged under the caller's params on every call.
	DefaultParams *Params
	// ExtractItems extracts the page's item records from the decoded payload.
	// When nil, a list payload is the item sequence, a map payload with a
	// "results" key yields that list, and any other payload is a single item.
	ExtractItems ExtractFunc
	// NextPage is the legacy pagination hook. Ignored when NextPageV2 is set.
	NextPage NextPageFunc
	// NextPageV2 is the preferred pagination hook.
	NextPageV2 NextPageV2Func
	// Codec translates between request fields and payload bytes. Nil means
	// JSON.
	Codec Codec
	// PathBuilder, when set, computes the effective URL from the base path
	// and the call params, overriding Path.
	PathBuilder func(base string, params *Params) (string, error)
	// StreamPages passes a streaming codec's lazy row sequence through to the
	// consumer instead of collecting each page into a slice. Required for
	// memory-bounded processing of large downloads.
	StreamPages bool
}

func (e *Endpoint) method() string {
	if e.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(e.Method)
}

func (e *Endpoint) codec() Codec {
	if e.Codec == nil {
		return &JSONCodec{}
	}
	return e.Codec
}

// joinURL joins a base URL and a path, tolerating a slash on either side.
func joinURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if base == "" {
		return path
	}
	switch {
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base[:len(base)-1] + path
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/") && path != "":
		return base + "/" + path
	}
	return base + path
}

// expandPath substitutes "{name}" placeholders from args and fails on any
// placeholder left unresolved.
func expandPath(path string, args map[string]string) (string, error) {
	for k, v := range args {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	if i := strings.IndexByte(path, '{'); i >= 0 {
		if j := strings.IndexByte(path[i:], '}'); j >= 0 {
			return "", errors.Reason("unresolved path placeholder %s in '%s'",
				path[i:i+j+1], path)
		}
	}
	return path, nil
}

// buildURL resolves the effective URL for one request: Params.URL wins, then
// PathBuilder, then the (expanded) Path joined with the client's base URL.
func (e *Endpoint) buildURL(base string, params *Params) (string, error) {
	if params.URL != "" {
		return params.URL, nil
	}
	if e.PathBuilder != nil {
		u, err := e.PathBuilder(base, params)
		if err != nil {
			return "", errors.Annotate(err, "path builder failed for endpoint '%s'", e.Name)
		}
		return u, nil
	}
	path, err := expandPath(e.Path, params.PathArgs)
	if err != nil {
		return "", errors.Annotate(err, "endpoint '%s'", e.Name)
	}
	return joinURL(base, path), nil
}

// ItemsAtPath creates an extractor that traverses a dot-separated path of
// map keys down to a list of items, e.g. ItemsAtPath("properties.periods").
// A missing key yields an empty page; a non-list leaf is a single item.
func ItemsAtPath(path string) ExtractFunc {
	parts := []string{}
	for _, p := range strings.Split(path, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return func(payload any) ([]any, error) {
		current := payload
		for _, part := range parts {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, nil
			}
			current = m[part]
			if current == nil {
				return nil, nil
			}
		}
		if list, ok := current.([]any); ok {
			return list, nil
		}
		return []any{current}, nil
	}
}
