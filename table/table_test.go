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

package table

import (
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type personRow struct {
	VanID string
	Name  string
}

func (r personRow) CSV() []string { return []string{r.VanID, r.Name} }

func TestTable(t *testing.T) {
	t.Parallel()

	Convey("Table methods work", t, func() {
		t := NewTable("VanID", "FirstName")
		headless := NewTable()

		So(t.Header, ShouldResemble, []string{"VanID", "FirstName"})
		t.AddRow(personRow{"101", "Annette"}, personRow{"102", "Bob"})
		headless.AddRow(RawRow{"101", "Annette"}, RawRow{"102", "Bob"})

		Convey("AddRow worked", func() {
			So(len(t.Rows), ShouldEqual, 2)
			So(len(headless.Rows), ShouldEqual, 2)
		})

		Convey("WriteCSV", func() {
			Convey("Default Params", func() {
				var buf bytes.Buffer
				So(t.WriteCSV(&buf, Params{}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
VanID,FirstName
101,Annette
102,Bob
`)
			})

			Convey("Default Params, headless", func() {
				var buf bytes.Buffer
				So(headless.WriteCSV(&buf, Params{}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
101,Annette
102,Bob
`)
			})

			Convey("Limited rows, no header", func() {
				var buf bytes.Buffer
				So(t.WriteCSV(&buf, Params{Rows: 1, NoHeader: true}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
101,Annette
`)
			})
		})

		Convey("WriteText", func() {
			Convey("Default Params", func() {
				var buf bytes.Buffer
				So(t.WriteText(&buf, Params{}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
VanID | FirstName
----- | ---------
  101 |   Annette
  102 |       Bob
`)
			})

			Convey("Limited rows and width, no header", func() {
				var buf bytes.Buffer
				So(t.WriteText(&buf, Params{Rows: 1, NoHeader: true, MaxColWidth: 5}), ShouldBeNil)
				So("\n"+buf.String(), ShouldResemble, `
101 | Ann..
`)
			})
		})
	})
}
