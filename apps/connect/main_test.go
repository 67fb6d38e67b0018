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

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stockparfait/logging"

	. "github.com/smartystreets/goconvey/convey"
)

const forecastBody = `{"properties": {"periods": [
  {"name": "Tonight", "startTime": "2025-08-30T18:00:00-04:00",
   "endTime": "2025-08-31T06:00:00-04:00", "temperature": 76},
  {"name": "Sunday", "startTime": "2025-08-31T06:00:00-04:00",
   "endTime": "2025-08-31T18:00:00-04:00", "temperature": 84}
]}}`

func writeConfig(dir, forecastURL string) error {
	body := fmt.Sprintf("[connectors.weather]\nforecast_url = %q\n", forecastURL)
	return os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644)
}

func TestMain(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_connect")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("parseFlags", t, func() {
		flags, err := parseFlags([]string{
			"-connector", "weather", "-data", "path/to/data", "-log-level", "warning"})
		So(err, ShouldBeNil)
		So(flags.Connector, ShouldEqual, "weather")
		So(flags.DataDir, ShouldEqual, "path/to/data")
		So(flags.LogLevel, ShouldEqual, logging.Warning)

		_, err = parseFlags([]string{"-data", "path/to/data"})
		So(err, ShouldNotBeNil)
	})

	Convey("parseConfig", t, func() {
		dir, err := os.MkdirTemp(tmpdir, "config")
		So(err, ShouldBeNil)
		So(writeConfig(dir, "https://api.weather.gov/forecast"), ShouldBeNil)

		c, err := parseConfig(dir)
		So(err, ShouldBeNil)
		So(c.Connectors["weather"]["forecast_url"],
			ShouldEqual, "https://api.weather.gov/forecast")

		_, err = parseConfig(filepath.Join(dir, "no_such_dir"))
		So(err, ShouldNotBeNil)
	})

	Convey("run syncs a connector into the data dir", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, forecastBody)
		}))
		defer server.Close()

		dir, err := os.MkdirTemp(tmpdir, "data")
		So(err, ShouldBeNil)
		So(writeConfig(dir, server.URL), ShouldBeNil)
		ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Error))

		Convey("a real run writes table and state files", func() {
			var out bytes.Buffer
			flags := &Flags{Connector: "weather", DataDir: dir, CSVTable: "period"}
			So(run(ctx, flags, &out), ShouldBeNil)

			rows, err := os.ReadFile(filepath.Join(dir, "weather", "period.ndjson"))
			So(err, ShouldBeNil)
			So(strings.Count(string(rows), "\n"), ShouldEqual, 2)

			state, err := os.ReadFile(filepath.Join(dir, "weather", "state.json"))
			So(err, ShouldBeNil)
			So(string(state), ShouldContainSubstring, "2025-08-31T06:00:00-04:00")

			So(out.String(), ShouldStartWith, "startTime,")
			So(out.String(), ShouldContainSubstring, "Tonight")
		})

		Convey("a dry run previews rows without touching the data dir", func() {
			var out bytes.Buffer
			flags := &Flags{Connector: "weather", DataDir: dir, DryRun: true, Preview: 10}
			So(run(ctx, flags, &out), ShouldBeNil)

			So(out.String(), ShouldContainSubstring, "period")
			So(out.String(), ShouldContainSubstring, "Tonight")
			_, err := os.Stat(filepath.Join(dir, "weather"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("an unknown connector is an error", func() {
			var out bytes.Buffer
			flags := &Flags{Connector: "nope", DataDir: dir}
			err := run(ctx, flags, &out)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unknown connector 'nope'")
		})
	})
}
