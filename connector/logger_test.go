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

package connector

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEventLogger(t *testing.T) {
	t.Parallel()

	Convey("EventLogger formatting", t, func() {
		l := NewEventLogger("everyaction", "people")

		Convey("event without details", func() {
			So(l.format("sync_start", nil), ShouldEqual,
				"[everyaction] [people] sync_start")
		})

		Convey("details keep their order", func() {
			So(l.format("fetched_page", []KV{
				{"page", 3}, {"rows", 50}, {"state", "SC"},
			}), ShouldEqual,
				"[everyaction] [people] fetched_page (page=3, rows=50, state=SC)")
		})

		Convey("WithService keeps the connector name", func() {
			So(l.WithService("contributions").format("sync_done", []KV{{"rows", 7}}),
				ShouldEqual, "[everyaction] [contributions] sync_done (rows=7)")
		})
	})
}
