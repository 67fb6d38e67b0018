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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/beevik/etree"
	. "github.com/smartystreets/goconvey/convey"
)

func responseWithBody(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestJSONCodec(t *testing.T) {
	t.Parallel()

	Convey("JSONCodec", t, func() {
		c := &JSONCodec{}

		Convey("Dump renders GET fields as query values", func() {
			parts, err := c.Dump(http.MethodGet, map[string]any{
				"state":    "SC",
				"top":      50,
				"page":     3.0,
				"ratio":    0.25,
				"archived": false,
				"expand":   []any{"phones", "emails"},
			})
			So(err, ShouldBeNil)
			So(parts.Body, ShouldBeNil)
			So(parts.Query.Get("state"), ShouldEqual, "SC")
			So(parts.Query.Get("top"), ShouldEqual, "50")
			So(parts.Query.Get("page"), ShouldEqual, "3")
			So(parts.Query.Get("ratio"), ShouldEqual, "0.25")
			So(parts.Query.Get("archived"), ShouldEqual, "false")
			So(parts.Query["expand"], ShouldResemble, []string{"phones", "emails"})
		})

		Convey("Dump renders POST fields as a JSON body", func() {
			parts, err := c.Dump(http.MethodPost, map[string]any{"query": "SELECT 1"})
			So(err, ShouldBeNil)
			So(parts.Header.Get("Content-Type"), ShouldEqual, "application/json")
			So(string(parts.Body), ShouldEqual, `{"query":"SELECT 1"}`)
		})

		Convey("Dump of an empty POST field set has no body", func() {
			parts, err := c.Dump(http.MethodPost, nil)
			So(err, ShouldBeNil)
			So(parts.Body, ShouldBeNil)
		})

		Convey("Load decodes generic JSON", func() {
			payload, err := c.Load(responseWithBody(`{"items": [1, 2]}`))
			So(err, ShouldBeNil)
			So(payload, ShouldResemble, map[string]any{"items": []any{1.0, 2.0}})
		})

		Convey("Load of an empty body is nil", func() {
			payload, err := c.Load(responseWithBody("  \n"))
			So(err, ShouldBeNil)
			So(payload, ShouldBeNil)
		})

		Convey("Load of malformed JSON is an error", func() {
			_, err := c.Load(responseWithBody(`{"items":`))
			So(err, ShouldNotBeNil)
		})

		Convey("a dumped body loads back structurally equal", func() {
			fields := map[string]any{"query": "SELECT 1", "pageSize": 100.0}
			parts, err := c.Dump(http.MethodPost, fields)
			So(err, ShouldBeNil)
			payload, err := c.Load(responseWithBody(string(parts.Body)))
			So(err, ShouldBeNil)
			So(payload, ShouldResemble, fields)
		})
	})
}

func TestSOAPCodec(t *testing.T) {
	t.Parallel()

	Convey("SOAPCodec", t, func() {
		c := &SOAPCodec{
			Action: "http://www.oorsprong.org/CountryInfo",
			BuildEnvelope: func(fields map[string]any) (string, error) {
				return `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body><ListOfCountryNamesByName xmlns="http://www.oorsprong.org/websamples.countryinfo"/></soap:Body>
</soap:Envelope>`, nil
			},
		}

		Convey("Dump builds the envelope with SOAP headers", func() {
			parts, err := c.Dump(http.MethodPost, nil)
			So(err, ShouldBeNil)
			So(parts.Header.Get("Content-Type"), ShouldEqual, "text/xml; charset=utf-8")
			So(parts.Header.Get("SOAPAction"), ShouldEqual, "http://www.oorsprong.org/CountryInfo")
			So(string(parts.Body), ShouldContainSubstring, "<ListOfCountryNamesByName")
		})

		Convey("Dump without an envelope builder is an error", func() {
			_, err := (&SOAPCodec{}).Dump(http.MethodPost, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("Load parses the response into an element tree", func() {
			payload, err := c.Load(responseWithBody(`
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <ListOfCountryNamesByNameResponse xmlns="http://www.oorsprong.org/websamples.countryinfo">
      <ListOfCountryNamesByNameResult>
        <tCountryCodeAndName><sISOCode>AD</sISOCode><sName>Andorra</sName></tCountryCodeAndName>
      </ListOfCountryNamesByNameResult>
    </ListOfCountryNamesByNameResponse>
  </soap:Body>
</soap:Envelope>`))
			So(err, ShouldBeNil)
			root, ok := payload.(*etree.Element)
			So(ok, ShouldBeTrue)
			So(XMLText(root, "//sISOCode"), ShouldEqual, "AD")
		})

		Convey("Load surfaces a SOAP fault as an error", func() {
			_, err := c.Load(responseWithBody(`
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Client</faultcode>
      <faultstring>Unknown method</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "SOAP fault")
			So(err.Error(), ShouldContainSubstring, "Unknown method")
		})

		Convey("Load of unparsable XML is an error", func() {
			_, err := c.Load(responseWithBody("<unclosed"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestCSVCodec(t *testing.T) {
	t.Parallel()

	Convey("CSVCodec", t, func() {
		Convey("Load materializes comma-separated rows", func() {
			payload, err := (&CSVCodec{}).Load(responseWithBody(
				"VanID,FirstName\n101,Ann\n102,Bob\n"))
			So(err, ShouldBeNil)
			m := payload.(map[string]any)
			So(m[ResultsKey], ShouldResemble, []any{
				map[string]string{"VanID": "101", "FirstName": "Ann"},
				map[string]string{"VanID": "102", "FirstName": "Bob"},
			})
		})

		Convey("Load sniffs a tab delimiter from the header line", func() {
			payload, err := (&CSVCodec{}).Load(responseWithBody(
				"VanID\tFirstName\n101\tAnn\n"))
			So(err, ShouldBeNil)
			m := payload.(map[string]any)
			So(m[ResultsKey], ShouldResemble, []any{
				map[string]string{"VanID": "101", "FirstName": "Ann"},
			})
		})

		Convey("streaming Load defers row reads and closes the body", func() {
			body := &recordingBody{Reader: strings.NewReader("VanID,FirstName\n101,Ann\n")}
			payload, err := (&CSVCodec{Stream: true}).Load(&http.Response{
				StatusCode: http.StatusOK, Body: body})
			So(err, ShouldBeNil)
			stream := streamOf(payload)
			So(stream, ShouldNotBeNil)
			So(stream.Header(), ShouldResemble, []string{"VanID", "FirstName"})

			row, err := stream.Read()
			So(err, ShouldBeNil)
			So(row, ShouldResemble, map[string]string{"VanID": "101", "FirstName": "Ann"})
			_, err = stream.Read()
			So(err, ShouldEqual, io.EOF)

			So(body.closed, ShouldBeFalse)
			stream.Close()
			So(body.closed, ShouldBeTrue)
		})
	})

	Convey("RowReader", t, func() {
		Convey("drops extra values and skips missing ones", func() {
			r, err := NewRowReader(strings.NewReader("a,b\n1,2,3\n4\n"), ',')
			So(err, ShouldBeNil)
			row, err := r.Read()
			So(err, ShouldBeNil)
			So(row, ShouldResemble, map[string]string{"a": "1", "b": "2"})
			row, err = r.Read()
			So(err, ShouldBeNil)
			So(row, ShouldResemble, map[string]string{"a": "4"})
		})

		Convey("empty input yields EOF immediately", func() {
			r, err := NewRowReader(strings.NewReader(""), ',')
			So(err, ShouldBeNil)
			_, err = r.Read()
			So(err, ShouldEqual, io.EOF)
		})

		Convey("Close releases resources in LIFO order", func() {
			r, err := NewRowReader(strings.NewReader("a\n"), ',')
			So(err, ShouldBeNil)
			var order []string
			r.AddCloser(closerFunc(func() { order = append(order, "first") }))
			r.AddCloser(closerFunc(func() { order = append(order, "second") }))
			r.Close()
			So(order, ShouldResemble, []string{"second", "first"})
		})
	})
}

type recordingBody struct {
	io.Reader
	closed bool
}

func (b *recordingBody) Close() error {
	b.closed = true
	return nil
}
