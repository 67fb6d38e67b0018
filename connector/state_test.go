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
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestState(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_state")
	defer os.RemoveAll(tmpdir)

	Convey("Test setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("State persistence", t, func() {
		path := filepath.Join(tmpdir, "state.json")

		Convey("a missing file is an empty state", func() {
			s, err := LoadState(filepath.Join(tmpdir, "nonexistent.json"))
			So(err, ShouldBeNil)
			So(s, ShouldResemble, State{})
		})

		Convey("Save then Load round-trips", func() {
			s := State{"cursor": "2025-06-01T00:00:00Z", "page": 3.0}
			So(s.Save(path), ShouldBeNil)
			loaded, err := LoadState(path)
			So(err, ShouldBeNil)
			So(loaded, ShouldResemble, s)
		})

		Convey("a corrupt file is an error", func() {
			corrupt := filepath.Join(tmpdir, "corrupt.json")
			So(os.WriteFile(corrupt, []byte("{not json"), 0644), ShouldBeNil)
			_, err := LoadState(corrupt)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("State accessors", t, func() {
		s := State{"cursor": "abc", "count": 5.0}

		Convey("GetString falls back to the default", func() {
			So(s.GetString("cursor", "d"), ShouldEqual, "abc")
			So(s.GetString("count", "d"), ShouldEqual, "d")
			So(s.GetString("missing", "d"), ShouldEqual, "d")
		})

		Convey("Copy does not alias the original", func() {
			c := s.Copy()
			c["cursor"] = "changed"
			So(s["cursor"], ShouldEqual, "abc")
		})
	})
}
