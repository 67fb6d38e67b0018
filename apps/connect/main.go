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
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/JLadd-Moore/fivetran-custom-connector/connector"
	"github.com/JLadd-Moore/fivetran-custom-connector/connectors/countryinfo"
	"github.com/JLadd-Moore/fivetran-custom-connector/connectors/everyaction"
	"github.com/JLadd-Moore/fivetran-custom-connector/connectors/sa360"
	"github.com/JLadd-Moore/fivetran-custom-connector/connectors/weather"
	"github.com/JLadd-Moore/fivetran-custom-connector/table"
	"github.com/pelletier/go-toml/v2"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

func registry() map[string]*connector.Connector {
	conns := map[string]*connector.Connector{}
	for _, c := range []*connector.Connector{
		weather.New(),
		countryinfo.New(),
		everyaction.New(),
		sa360.New(),
	} {
		conns[c.Name] = c
	}
	return conns
}

type Flags struct {
	Connector string // required
	DataDir   string // default: ~/.fivetran-connect
	LogLevel  logging.Level
	DryRun    bool   // preview rows instead of writing the data dir
	Preview   int    // rows per table to print in dry-run mode
	CSVTable  string // table to dump as CSV to stdout after the sync
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	fs.StringVar(&flags.Connector, "connector", "", "connector to run (required)")
	fs.StringVar(&flags.DataDir, "data",
		filepath.Join(os.Getenv("HOME"), ".fivetran-connect"),
		"path to the config and output files")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.BoolVar(&flags.DryRun, "dry-run", false,
		"preview synced rows without writing the data dir")
	fs.IntVar(&flags.Preview, "preview", 10, "rows per table to print in dry-run mode")
	fs.StringVar(&flags.CSVTable, "csv", "", "table to dump as CSV to stdout after the sync")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.Connector == "" {
		return nil, errors.Reason("missing required -connector argument")
	}
	return &flags, nil
}

type Config struct {
	Connectors map[string]map[string]string `toml:"connectors"`
}

func parseConfig(dir string) (*Config, error) {
	filePath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sample := `[connectors.weather]
latitude = "33.68"
longitude = "-78.89"
`
			return nil, errors.Annotate(err,
				"config file '%s' does not exist.\nPlease create config file containing:\n%s",
				filePath, sample)
		}
		return nil, errors.Annotate(err,
			"cannot check config file for existence: '%s'", filePath)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", filePath)
	}
	defer f.Close()

	d := toml.NewDecoder(f)
	var c Config
	if err := d.Decode(&c); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", filePath)
	}
	return &c, nil
}

func knownConnectors(conns map[string]*connector.Connector) []string {
	names := []string{}
	for name := range conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// run syncs one connector into <data>/<connector>/, resuming from the state
// saved by the previous run. In dry-run mode it syncs into a throwaway
// directory and prints a preview of each table to w instead.
func run(ctx context.Context, flags *Flags, w io.Writer) error {
	config, err := parseConfig(flags.DataDir)
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	conns := registry()
	conn, ok := conns[flags.Connector]
	if !ok {
		return errors.Reason("unknown connector '%s'; known connectors: %v",
			flags.Connector, knownConnectors(conns))
	}
	cfg := connector.Config(config.Connectors[conn.Name])

	tables, err := conn.Schema(ctx, cfg)
	if err != nil {
		return errors.Annotate(err, "failed to read the schema of '%s'", conn.Name)
	}
	outDir := filepath.Join(flags.DataDir, conn.Name)
	var state connector.State
	if flags.DryRun {
		if outDir, err = os.MkdirTemp("", "connect_dry_run"); err != nil {
			return errors.Annotate(err, "failed to create a dry-run dir")
		}
		defer os.RemoveAll(outDir)
		state = connector.State{}
	} else {
		if state, err = connector.LoadState(
			filepath.Join(outDir, "state.json")); err != nil {
			return errors.Annotate(err, "failed to load the state of '%s'", conn.Name)
		}
	}
	sink, err := connector.NewSink(outDir, tables)
	if err != nil {
		return errors.Annotate(err, "failed to open the output dir %s", outDir)
	}
	defer sink.Close()

	if err := conn.Update(ctx, cfg, state, sink.Emit); err != nil {
		return errors.Annotate(err, "failed to sync '%s'", conn.Name)
	}
	if err := sink.Close(); err != nil {
		return errors.Annotate(err, "failed to finalize the output dir %s", outDir)
	}
	for _, t := range tables {
		logging.Infof(ctx, "table %s: %d rows", t.Name, sink.Counts()[t.Name])
	}
	if flags.DryRun {
		return preview(flags, sink, tables, w)
	}
	if flags.CSVTable != "" {
		if err := sink.ExportCSV(flags.CSVTable, w); err != nil {
			return errors.Annotate(err, "failed to export table '%s'", flags.CSVTable)
		}
	}
	return nil
}

func preview(flags *Flags, sink *connector.Sink, tables []connector.Table, w io.Writer) error {
	for _, t := range tables {
		tbl, err := sink.LoadTable(t.Name)
		if err != nil {
			return errors.Annotate(err, "failed to load table '%s'", t.Name)
		}
		if _, err := io.WriteString(w, t.Name+"\n"); err != nil {
			return errors.Annotate(err, "failed to print preview")
		}
		params := table.Params{Rows: flags.Preview, MaxColWidth: 40}
		if err := tbl.WriteText(w, params); err != nil {
			return errors.Annotate(err, "failed to print table '%s'", t.Name)
		}
	}
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
