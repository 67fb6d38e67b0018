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
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/stockparfait/errors"
)

// Reserved keys of list payloads produced by codecs: a materialized page
// stores its rows under ResultsKey, a streaming page stores its lazy row
// sequence under ResultsIterKey.
const (
	ResultsKey     = "results"
	ResultsIterKey = "results_iter"
)

// RequestParts is the codec's rendering of the request field set: query
// values, an optional raw body and the content headers describing it.
type RequestParts struct {
	Query  url.Values
	Body   []byte
	Header http.Header
}

// Codec translates between the declarative request field set and actual
// request/response bytes. Dump renders the outgoing fields for the given
// HTTP method; Load decodes a successful response's body into a payload.
type Codec interface {
	Dump(method string, fields map[string]any) (*RequestParts, error)
	Load(resp *http.Response) (any, error)
}

// queryValue renders a single request field as a query string value.
func queryValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// JSONCodec is the default codec: GET requests send the fields as query
// parameters, other methods send them as a JSON body; responses are decoded
// as generic JSON.
type JSONCodec struct{}

var _ Codec = &JSONCodec{}

func (c *JSONCodec) Dump(method string, fields map[string]any) (*RequestParts, error) {
	if method == http.MethodGet {
		q := make(url.Values)
		for k, v := range fields {
			if list, ok := v.([]any); ok {
				for _, item := range list {
					q.Add(k, queryValue(item))
				}
				continue
			}
			q.Set(k, queryValue(v))
		}
		return &RequestParts{Query: q}, nil
	}
	parts := RequestParts{Header: http.Header{"Content-Type": {"application/json"}}}
	if len(fields) > 0 {
		body, err := json.Marshal(fields)
		if err != nil {
			return nil, errors.Annotate(err, "failed to encode JSON body")
		}
		parts.Body = body
	}
	return &parts, nil
}

func (c *JSONCodec) Load(resp *http.Response) (any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read response body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Annotate(err, "failed to decode JSON response")
	}
	return payload, nil
}

// SOAPCodec implements SOAP 1.1: the request body is a full XML envelope
// produced by BuildEnvelope, and the response is parsed into an element tree
// whose root is the payload, for downstream path-based extraction. A Fault
// element anywhere in the response is an error.
type SOAPCodec struct {
	// Action is the SOAPAction header value.
	Action string
	// BuildEnvelope renders the request fields into a complete Envelope.
	BuildEnvelope func(fields map[string]any) (string, error)
}

var _ Codec = &SOAPCodec{}

func (c *SOAPCodec) Dump(method string, fields map[string]any) (*RequestParts, error) {
	if c.BuildEnvelope == nil {
		return nil, errors.Reason("SOAPCodec requires a BuildEnvelope function")
	}
	env, err := c.BuildEnvelope(fields)
	if err != nil {
		return nil, errors.Annotate(err, "failed to build SOAP envelope")
	}
	header := http.Header{"Content-Type": {"text/xml; charset=utf-8"}}
	if c.Action != "" {
		header.Set("SOAPAction", c.Action)
	}
	return &RequestParts{Body: []byte(env), Header: header}, nil
}

func (c *SOAPCodec) Load(resp *http.Response) (any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read response body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, errors.Annotate(err, "failed to parse XML response")
	}
	if fault := doc.FindElement("//Fault"); fault != nil {
		faultDoc := etree.NewDocument()
		faultDoc.SetRoot(fault.Copy())
		s, err := faultDoc.WriteToString()
		if err != nil {
			s = "<unprintable>"
		}
		return nil, errors.Reason("SOAP fault: %s", strings.TrimSpace(s))
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.Reason("XML response has no root element")
	}
	return root, nil
}

// CSVCodec decodes delimited text responses into header-keyed rows. In
// stream mode the payload holds a lazy, single-pass RowReader under
// ResultsIterKey, so the client need not buffer an entire page in memory;
// otherwise the payload holds the fully materialized rows under ResultsKey.
type CSVCodec struct {
	// Comma is the field delimiter; zero sniffs tab vs comma from the header
	// line.
	Comma rune
	// Stream controls lazy vs materialized decoding.
	Stream bool
}

var _ Codec = &CSVCodec{}

// Dump delegates to the JSON codec: CSV endpoints are typically plain GET
// downloads whose fields, if any, travel as query parameters.
func (c *CSVCodec) Dump(method string, fields map[string]any) (*RequestParts, error) {
	return (&JSONCodec{}).Dump(method, fields)
}

func (c *CSVCodec) Load(resp *http.Response) (any, error) {
	reader, err := NewRowReader(resp.Body, c.Comma)
	if err != nil {
		return nil, err
	}
	if c.Stream {
		reader.AddCloser(resp.Body)
		return map[string]any{ResultsIterKey: reader}, nil
	}
	rows := []any{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Annotate(err, "failed to read CSV row")
		}
		rows = append(rows, row)
	}
	return map[string]any{ResultsKey: rows}, nil
}

// RowReader streams header-keyed CSV rows one at a time, with a Close method
// releasing the underlying resources.
type RowReader struct {
	header  []string
	reader  *csv.Reader
	closers []io.Closer
}

// NewRowReader reads the header line of r and prepares to stream the
// remaining rows. A zero comma sniffs tab vs comma from the header line.
func NewRowReader(r io.Reader, comma rune) (*RowReader, error) {
	buf := bufio.NewReader(r)
	if comma == 0 {
		comma = ','
		if first, err := buf.Peek(4096); err == nil || len(first) > 0 {
			line := first
			if i := bytes.IndexByte(first, '\n'); i >= 0 {
				line = first[:i]
			}
			if bytes.ContainsRune(line, '\t') {
				comma = '\t'
			}
		}
	}
	cr := csv.NewReader(buf)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return &RowReader{reader: cr}, nil
	}
	if err != nil {
		return nil, errors.Annotate(err, "failed to read CSV header")
	}
	return &RowReader{header: header, reader: cr}, nil
}

// Header returns the column names from the first line, if any.
func (r *RowReader) Header() []string {
	return r.header
}

// Read returns the next row keyed by the header columns. It returns io.EOF
// when there are no more rows. Extra unlabeled values are dropped; missing
// values are absent from the map.
func (r *RowReader) Read() (map[string]string, error) {
	if r.header == nil {
		return nil, io.EOF
	}
	rec, err := r.reader.Read()
	if err != nil {
		return nil, err
	}
	row := make(map[string]string, len(r.header))
	for i, name := range r.header {
		if i < len(rec) {
			row[name] = rec[i]
		}
	}
	return row, nil
}

// AddCloser registers a resource to release on Close, in LIFO order.
func (r *RowReader) AddCloser(c io.Closer) {
	r.closers = append(r.closers, c)
}

// Close releases all registered resources. Close errors are ignored; the
// reader is single-pass and done with the data by the time Close is called.
func (r *RowReader) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i].Close()
	}
	r.closers = nil
}

// streamOf extracts the lazy row sequence from a streaming codec's payload,
// or nil when the payload is not a stream.
func streamOf(payload any) *RowReader {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	r, _ := m[ResultsIterKey].(*RowReader)
	return r
}
