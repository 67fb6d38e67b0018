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

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/JLadd-Moore/fivetran-custom-connector/schema"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

type contextKey int

const (
	httpClientContextKey contextKey = iota
)

// UseHTTPClient injects the HTTP client performing the requests into the
// context. Tests inject a test server's client this way.
func UseHTTPClient(ctx context.Context, c *http.Client) context.Context {
	return context.WithValue(ctx, httpClientContextKey, c)
}

func httpClientFrom(ctx context.Context) *http.Client {
	c, ok := ctx.Value(httpClientContextKey).(*http.Client)
	if !ok {
		return http.DefaultClient
	}
	return c
}

// StatusError is an HTTP error status surfaced to the caller, carrying a
// snippet of the response body for diagnostics.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %s from %s: %s", e.Status, e.URL, e.Body)
}

// newStatusError consumes up to a few KB of the response body into the
// error.
func newStatusError(resp *http.Response) *StatusError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        resp.Request.URL.String(),
		Body:       strings.TrimSpace(string(snippet)),
	}
}

// Client owns a registry of endpoints and issues their requests through an
// auth strategy. A client and its strategy are intended for single-threaded
// use within one connector run.
type Client struct {
	auth       Strategy
	endpoints  map[string]*Endpoint
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the base URL that relative endpoint paths are joined
// with.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient pins the HTTP client, taking precedence over any client
// injected into the request context with UseHTTPClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client over the given endpoints. A nil auth means no
// authentication. Duplicate endpoint names are a configuration bug and fail
// construction.
func NewClient(auth Strategy, endpoints []*Endpoint, opts ...Option) (*Client, error) {
	if auth == nil {
		auth = NoAuth{}
	}
	c := &Client{auth: auth, endpoints: make(map[string]*Endpoint, len(endpoints))}
	for _, e := range endpoints {
		if e.Name == "" {
			return nil, errors.Reason("endpoint with path '%s' has no name", e.Path)
		}
		if _, ok := c.endpoints[e.Name]; ok {
			return nil, errors.Reason("duplicate endpoint name: '%s'", e.Name)
		}
		c.endpoints[e.Name] = e
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint looks up a registered endpoint by name. An unknown name is an
// error, never a nil handle.
func (c *Client) Endpoint(name string) (*Handle, error) {
	e, ok := c.endpoints[name]
	if !ok {
		return nil, errors.Reason("endpoint not found: '%s'", name)
	}
	return &Handle{client: c, endpoint: e}, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	hc := c.httpClient
	if hc == nil {
		hc = httpClientFrom(ctx)
	}
	return hc.Do(req)
}

// Handle invokes a single endpoint configuration.
type Handle struct {
	client   *Client
	endpoint *Endpoint
}

// Pages executes the endpoint and iterates over pages of results. The
// sequence is lazy and single-pass: each Next issues one request with the
// params merged from the endpoint defaults, the caller's params and the
// preceding page's pagination hook result, and stops after the hook returns
// nil. An empty page does not terminate the sequence while the hook keeps
// advancing; a hook that never returns nil iterates forever, which is the
// caller's bug to guard against.
func (h *Handle) Pages(ctx context.Context, params *Params) *PageIterator {
	return &PageIterator{ctx: ctx, client: h.client, endpoint: h.endpoint, caller: params}
}

// Items flattens Pages into a lazy sequence of item records.
func (h *Handle) Items(ctx context.Context, params *Params) *ItemIterator {
	return &ItemIterator{pages: h.Pages(ctx, params)}
}

// Fetch executes the endpoint once and returns the first page, without
// continuing pagination. A convenience for endpoints returning a single
// object.
func (h *Handle) Fetch(ctx context.Context, params *Params) (*Page, error) {
	page, ok, err := h.Pages(ctx, params).Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Reason("endpoint '%s' produced no pages", h.endpoint.Name)
	}
	return page, nil
}

// All drains Items into a slice. Only for endpoints known to terminate and
// small enough to buffer.
func (h *Handle) All(ctx context.Context, params *Params) ([]any, error) {
	items := []any{}
	it := h.Items(ctx, params)
	for {
		item, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return items, nil
		}
		items = append(items, item)
	}
}

// Page is the result of one HTTP round trip: the raw response, the decoded
// payload, the extracted items and the pagination hook's params for the next
// page (nil on the terminal page). Exactly one of Items and Stream is set;
// Stream passes a streaming codec's lazy row sequence through when the
// endpoint does not materialize pages. The consumer of a Stream owns closing
// it.
type Page struct {
	Response *http.Response
	Payload  any
	Items    []any
	Stream   *RowReader
	Next     *Params
}

// PageIterator lazily executes an endpoint page by page.
type PageIterator struct {
	ctx       context.Context
	client    *Client
	endpoint  *Endpoint
	caller    *Params
	params    *Params        // merged effective params, evolving across pages
	fields    map[string]any // current request field set
	started   bool
	done      bool
	pageCount int
}

// start computes the initial request fields from the endpoint defaults, the
// caller's params and the wholesale Query/Body replacements.
func (it *PageIterator) start() {
	it.params = it.endpoint.DefaultParams.Merge(it.caller)
	switch {
	case it.endpoint.method() == http.MethodGet && it.params.Query != nil:
		it.fields = copyFields(it.params.Query)
	case it.endpoint.method() != http.MethodGet && it.params.Body != nil:
		it.fields = copyFields(it.params.Body)
	default:
		it.fields = copyFields(it.params.Fields)
	}
	it.started = true
}

func copyFields(fields map[string]any) map[string]any {
	res := make(map[string]any, len(fields))
	for k, v := range fields {
		res[k] = v
	}
	return res
}

// dumpFields validates and normalizes the current field set through the
// endpoint's request schema, applying declared defaults.
func (it *PageIterator) dumpFields() (map[string]any, error) {
	if it.endpoint.RequestSchema == nil {
		return it.fields, nil
	}
	rec := it.endpoint.RequestSchema()
	in := it.fields
	if in == nil {
		in = map[string]any{}
	}
	if err := rec.InitRecord(in); err != nil {
		return nil, errors.Annotate(err, "invalid request fields for endpoint '%s'",
			it.endpoint.Name)
	}
	dumped, err := schema.Dump(rec)
	if err != nil {
		return nil, errors.Annotate(err, "failed to dump request fields for endpoint '%s'",
			it.endpoint.Name)
	}
	return dumped, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// send builds and issues one request, returning the response and a cancel
// function bounding the per-call timeout. The cancel must be invoked after
// the response body has been consumed.
func (it *PageIterator) send(rawURL string, parts *RequestParts) (*http.Response, context.CancelFunc, error) {
	reqURL := rawURL
	if len(parts.Query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, nil, errors.Annotate(err, "invalid URL '%s'", rawURL)
		}
		q := u.Query()
		for k, vs := range parts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}
	ctx, cancel := it.ctx, context.CancelFunc(func() {})
	if it.params.Timeout > 0 {
		ctx, cancel = context.WithTimeout(it.ctx, it.params.Timeout)
	}
	var body io.Reader
	if parts.Body != nil {
		body = bytes.NewReader(parts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, it.endpoint.method(), reqURL, body)
	if err != nil {
		cancel()
		return nil, nil, errors.Annotate(err, "failed to build request for endpoint '%s'",
			it.endpoint.Name)
	}
	for k, vs := range parts.Header {
		req.Header[k] = vs
	}
	for k, vs := range it.params.Header {
		req.Header[k] = vs
	}
	if err := it.client.auth.Apply(req); err != nil {
		cancel()
		return nil, nil, errors.Annotate(err, "failed to apply auth for endpoint '%s'",
			it.endpoint.Name)
	}
	resp, err := it.client.do(ctx, req)
	if err != nil {
		cancel()
		return nil, nil, errors.Annotate(err, "request failed for endpoint '%s'",
			it.endpoint.Name)
	}
	return resp, cancel, nil
}

// snapshot of the current params, as seen by the pagination hooks.
func (it *PageIterator) snapshot() *Params {
	p := *it.params
	p.Fields = it.fields
	return &p
}

// advance applies a pagination hook result to the iterator state.
func (it *PageIterator) advance(next *Params) {
	if next == nil {
		it.done = true
		return
	}
	if next.URL != "" {
		it.params.URL = next.URL
	}
	switch {
	case it.endpoint.method() == http.MethodGet && next.Query != nil:
		it.fields = copyFields(next.Query)
	case it.endpoint.method() != http.MethodGet && next.Body != nil:
		it.fields = copyFields(next.Body)
	case next.Fields != nil:
		merged := copyFields(it.fields)
		for k, v := range next.Fields {
			merged[k] = v
		}
		it.fields = merged
	}
	for k, v := range next.PathArgs {
		if it.params.PathArgs == nil {
			it.params.PathArgs = make(map[string]string)
		}
		it.params.PathArgs[k] = v
	}
	for k, vs := range next.Header {
		if it.params.Header == nil {
			it.params.Header = make(http.Header)
		}
		it.params.Header[k] = vs
	}
	if next.Timeout != 0 {
		it.params.Timeout = next.Timeout
	}
}

// Next fetches the next page. The second value is false when the sequence is
// exhausted. Errors - transport failures, HTTP error statuses after the
// single auth retry, codec and schema failures, pagination hook errors - all
// terminate the sequence.
func (it *PageIterator) Next() (*Page, bool, error) {
	if it.done {
		return nil, false, nil
	}
	if !it.started {
		it.start()
	}
	e := it.endpoint

	rawURL, err := e.buildURL(it.client.baseURL, it.snapshot())
	if err != nil {
		return nil, false, err
	}
	dumped, err := it.dumpFields()
	if err != nil {
		return nil, false, err
	}
	parts, err := e.codec().Dump(e.method(), dumped)
	if err != nil {
		return nil, false, errors.Annotate(err, "failed to encode request for endpoint '%s'", e.Name)
	}

	resp, cancel, err := it.send(rawURL, parts)
	if err != nil {
		return nil, false, err
	}
	// A recoverable auth failure gets exactly one refresh-and-resend. A
	// second failure falls through to the status check below.
	if it.client.auth.IsAuthError(resp) {
		resp.Body.Close()
		cancel()
		logging.Infof(it.ctx, "%s: auth expired, refreshing credentials", e.Name)
		if err := it.client.auth.Refresh(it.ctx); err != nil {
			return nil, false, errors.Annotate(err, "failed to refresh credentials for endpoint '%s'", e.Name)
		}
		if resp, cancel, err = it.send(rawURL, parts); err != nil {
			return nil, false, err
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := newStatusError(resp)
		resp.Body.Close()
		cancel()
		return nil, false, statusErr
	}

	payload, err := e.codec().Load(resp)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, false, errors.Annotate(err, "failed to decode response for endpoint '%s'", e.Name)
	}
	stream := streamOf(payload)
	if stream == nil {
		resp.Body.Close()
		cancel()
	} else {
		stream.AddCloser(closerFunc(cancel))
	}

	if e.ResponseSchema != nil && stream == nil {
		if m, ok := payload.(map[string]any); ok {
			if err := schema.Validate(e.ResponseSchema(), m); err != nil {
				return nil, false, errors.Annotate(err, "invalid response payload for endpoint '%s'", e.Name)
			}
		}
	}

	page := &Page{Response: resp, Payload: payload}
	if stream != nil && e.StreamPages {
		page.Stream = stream
	} else if stream != nil {
		if page.Items, err = drain(stream); err != nil {
			return nil, false, errors.Annotate(err, "failed to read rows for endpoint '%s'", e.Name)
		}
	} else if page.Items, err = it.extractItems(payload); err != nil {
		return nil, false, errors.Annotate(err, "failed to extract items for endpoint '%s'", e.Name)
	}

	next, err := it.nextPage(resp, payload)
	if err != nil {
		if page.Stream != nil {
			page.Stream.Close()
		}
		return nil, false, errors.Annotate(err, "pagination hook failed for endpoint '%s'", e.Name)
	}
	page.Next = next
	it.advance(next)

	it.pageCount++
	logging.Debugf(it.ctx, "%s: fetched page %d with %d items",
		e.Name, it.pageCount, len(page.Items))
	return page, true, nil
}

func (it *PageIterator) extractItems(payload any) ([]any, error) {
	if it.endpoint.ExtractItems != nil {
		return it.endpoint.ExtractItems(payload)
	}
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []any:
		return p, nil
	case map[string]any:
		if v, ok := p[ResultsKey]; ok {
			if list, ok := v.([]any); ok {
				return list, nil
			}
		}
		return []any{p}, nil
	default:
		return []any{payload}, nil
	}
}

func (it *PageIterator) nextPage(resp *http.Response, payload any) (*Params, error) {
	switch {
	case it.endpoint.NextPageV2 != nil:
		return it.endpoint.NextPageV2(resp, payload, it.snapshot())
	case it.endpoint.NextPage != nil:
		return it.endpoint.NextPage(resp, it.snapshot())
	}
	return nil, nil
}

// drain materializes a streaming page into a row slice.
func drain(stream *RowReader) ([]any, error) {
	defer stream.Close()
	rows := []any{}
	for {
		row, err := stream.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// ItemIterator flattens a page sequence into a lazy item sequence. Streaming
// pages are consumed row by row without buffering.
type ItemIterator struct {
	pages  *PageIterator
	items  []any
	index  int
	stream *RowReader
}

// Next returns the next item. The second value is false when the sequence is
// exhausted.
func (it *ItemIterator) Next() (any, bool, error) {
	for {
		if it.stream != nil {
			row, err := it.stream.Read()
			if err == io.EOF {
				it.stream.Close()
				it.stream = nil
				continue
			}
			if err != nil {
				it.stream.Close()
				it.stream = nil
				return nil, false, errors.Annotate(err, "failed to read streamed row")
			}
			return row, true, nil
		}
		if it.index < len(it.items) {
			item := it.items[it.index]
			it.index++
			return item, true, nil
		}
		page, ok, err := it.pages.Next()
		if !ok || err != nil {
			return nil, false, err
		}
		if page.Stream != nil {
			it.stream = page.Stream
			continue
		}
		it.items, it.index = page.Items, 0
	}
}
