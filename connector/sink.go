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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/JLadd-Moore/fivetran-custom-connector/table"
	"github.com/stockparfait/errors"
)

// Sink is the local destination of a connector run: upserted rows are
// appended to per-table NDJSON files under the data directory, and every
// checkpoint is persisted immediately to the state file, so an interrupted
// run resumes from its last checkpoint.
type Sink struct {
	dir    string
	tables map[string]Table
	files  map[string]*os.File
	encs   map[string]*json.Encoder
	counts map[string]int
	state  State
}

// NewSink creates the data directory and prepares a sink for the declared
// tables. Rows upserted into undeclared tables are an error.
func NewSink(dir string, tables []Table) (*Sink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Annotate(err, "failed to create data directory '%s'", dir)
	}
	s := &Sink{
		dir:    dir,
		tables: make(map[string]Table, len(tables)),
		files:  make(map[string]*os.File),
		encs:   make(map[string]*json.Encoder),
		counts: make(map[string]int),
	}
	for _, t := range tables {
		if t.Name == "" {
			return nil, errors.Reason("table with an empty name")
		}
		if _, ok := s.tables[t.Name]; ok {
			return nil, errors.Reason("duplicate table name: '%s'", t.Name)
		}
		s.tables[t.Name] = t
	}
	return s, nil
}

// StatePath is the location of the persisted checkpoint file.
func (s *Sink) StatePath() string {
	return filepath.Join(s.dir, "state.json")
}

func (s *Sink) tablePath(name string) string {
	return filepath.Join(s.dir, name+".ndjson")
}

func (s *Sink) encoder(tbl string) (*json.Encoder, error) {
	if enc, ok := s.encs[tbl]; ok {
		return enc, nil
	}
	if _, ok := s.tables[tbl]; !ok {
		return nil, errors.Reason("upsert into undeclared table '%s'", tbl)
	}
	f, err := os.OpenFile(s.tablePath(tbl), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open table file for '%s'", tbl)
	}
	s.files[tbl] = f
	s.encs[tbl] = json.NewEncoder(f)
	return s.encs[tbl], nil
}

// Emit applies one connector output operation: an Upsert appends the row to
// its table file, a Checkpoint saves the state.
func (s *Sink) Emit(op Operation) error {
	switch o := op.(type) {
	case Upsert:
		enc, err := s.encoder(o.Table)
		if err != nil {
			return err
		}
		if err := enc.Encode(o.Row); err != nil {
			return errors.Annotate(err, "failed to write row to table '%s'", o.Table)
		}
		s.counts[o.Table]++
		return nil
	case Checkpoint:
		s.state = o.State
		return o.State.Save(s.StatePath())
	default:
		return errors.Reason("unsupported operation type %T", op)
	}
}

// Counts returns the number of rows upserted per table so far.
func (s *Sink) Counts() map[string]int {
	res := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		res[k] = v
	}
	return res
}

// State returns the last checkpointed state, or nil if none was emitted.
func (s *Sink) State() State {
	return s.state
}

// Close flushes and closes all table files. The sink is unusable afterwards.
func (s *Sink) Close() error {
	var firstErr error
	for tbl, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Annotate(err, "failed to close table file for '%s'", tbl)
		}
	}
	s.files = nil
	s.encs = nil
	return firstErr
}

// columnOrder is the CSV column order of a table: primary key columns in
// their declared order, the rest sorted by name.
func columnOrder(t Table) []string {
	order := []string{}
	inPK := make(map[string]bool, len(t.PrimaryKey))
	for _, c := range t.PrimaryKey {
		inPK[c] = true
		order = append(order, c)
	}
	rest := []string{}
	for c := range t.Columns {
		if !inPK[c] {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func csvValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%v", x)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// LoadTable reads a table's rows back from its NDJSON file into an
// exportable table with the declared column order. A missing file is an
// empty table.
func (s *Sink) LoadTable(name string) (*table.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, errors.Reason("undeclared table '%s'", name)
	}
	order := columnOrder(t)
	tbl := table.NewTable(order...)

	f, err := os.Open(s.tablePath(name))
	if os.IsNotExist(err) {
		return tbl, nil
	}
	if err != nil {
		return nil, errors.Annotate(err, "failed to open table file for '%s'", name)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var row Row
		if err := dec.Decode(&row); err != nil {
			return nil, errors.Annotate(err, "failed to decode row of table '%s'", name)
		}
		values := make([]string, len(order))
		for i, c := range order {
			values[i] = csvValue(row[c])
		}
		tbl.AddRow(table.RawRow(values))
	}
	return tbl, nil
}

// ExportCSV writes a table's accumulated rows to w in CSV format.
func (s *Sink) ExportCSV(name string, w io.Writer) error {
	tbl, err := s.LoadTable(name)
	if err != nil {
		return err
	}
	return tbl.WriteCSV(w, table.Params{})
}
