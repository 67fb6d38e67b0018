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
	"testing"

	"github.com/beevik/etree"
	. "github.com/smartystreets/goconvey/convey"
)

func parseXML(t *testing.T, s string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		t.Fatal(err)
	}
	return doc.Root()
}

func TestXMLItems(t *testing.T) {
	t.Parallel()

	Convey("XMLItems", t, func() {
		root := parseXML(t, `
<Envelope xmlns:m="http://www.oorsprong.org/websamples.countryinfo">
  <Body>
    <m:FullCountryInfoAllCountriesResult>
      <m:tCountryInfo>
        <m:sISOCode>AD</m:sISOCode>
        <m:sName>Andorra</m:sName>
        <m:Languages>
          <m:tLanguage><m:sName>Catalan</m:sName></m:tLanguage>
        </m:Languages>
      </m:tCountryInfo>
      <m:tCountryInfo>
        <m:sISOCode>BE</m:sISOCode>
        <m:sName>Belgium</m:sName>
        <m:Languages>
          <m:tLanguage><m:sName>Dutch</m:sName></m:tLanguage>
          <m:tLanguage><m:sName>French</m:sName></m:tLanguage>
          <m:tLanguage><m:sName>German</m:sName></m:tLanguage>
        </m:Languages>
      </m:tCountryInfo>
    </m:FullCountryInfoAllCountriesResult>
  </Body>
</Envelope>`)

		extract := XMLItems("//tCountryInfo", map[string]XMLField{
			"iso_code":  {Path: "sISOCode"},
			"name":      {Path: "sName"},
			"languages": {Each: "tLanguage/sName", Under: "Languages", Join: ","},
			"capital":   {Path: "sCapitalCity"},
		})

		Convey("extracts one row per item node", func() {
			items, err := extract(root)
			So(err, ShouldBeNil)
			So(items, ShouldResemble, []any{
				map[string]any{
					"iso_code":  "AD",
					"name":      "Andorra",
					"languages": "Catalan",
					"capital":   "",
				},
				map[string]any{
					"iso_code":  "BE",
					"name":      "Belgium",
					"languages": "Dutch,French,German",
					"capital":   "",
				},
			})
		})

		Convey("multi-value fields without Join stay a list", func() {
			extract := XMLItems("//tCountryInfo", map[string]XMLField{
				"languages": {Each: "tLanguage/sName", Under: "Languages"},
			})
			items, err := extract(root)
			So(err, ShouldBeNil)
			So(items[1], ShouldResemble, map[string]any{
				"languages": []string{"Dutch", "French", "German"},
			})
		})

		Convey("a non-XML payload is an error", func() {
			_, err := extract(map[string]any{})
			So(err, ShouldNotBeNil)
		})

		Convey("a field with neither Path nor Each is an error", func() {
			extract := XMLItems("//tCountryInfo", map[string]XMLField{"bad": {}})
			_, err := extract(root)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("XMLText", t, func() {
		root := parseXML(t, "<a><b> hello </b></a>")
		So(XMLText(root, "//b"), ShouldEqual, "hello")
		So(XMLText(root, "//missing"), ShouldEqual, "")
	})
}
