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

// Package connector defines the hosting contract for data connectors: a
// connector declares its destination tables and implements an incremental
// Update which emits row upserts and state checkpoints to the host. The
// package also provides the host-side pieces - a JSON-file state store, a
// local file sink and the single-line event logger shared by all
// connectors.
package connector

import (
	"context"

	"github.com/stockparfait/errors"
)

// ColumnType is the destination type of a table column.
type ColumnType string

const (
	String      ColumnType = "STRING"
	Int         ColumnType = "INT"
	Float       ColumnType = "FLOAT"
	Boolean     ColumnType = "BOOLEAN"
	UTCDatetime ColumnType = "UTC_DATETIME"
)

// Table declares one destination table.
type Table struct {
	Name       string
	PrimaryKey []string
	Columns    map[string]ColumnType
}

// Row is one destination record, keyed by column name.
type Row map[string]any

// Operation is one unit of connector output: an Upsert or a Checkpoint.
type Operation interface {
	isOperation()
}

// Upsert inserts or updates one row of a table.
type Upsert struct {
	Table string
	Row   Row
}

func (Upsert) isOperation() {}

// Checkpoint persists the connector's incremental cursor. The host saves
// the state so that a later run resumes from it.
type Checkpoint struct {
	State State
}

func (Checkpoint) isOperation() {}

// EmitFunc receives a single connector output operation. Emitting stops the
// run when it returns an error.
type EmitFunc func(op Operation) error

// Config is the connector's configuration, as flat string key-values.
type Config map[string]string

// Get returns the value of key, or def when the key is absent or empty.
func (c Config) Get(key, def string) string {
	if v := c[key]; v != "" {
		return v
	}
	return def
}

// Require returns the value of key, or an error naming the missing key.
func (c Config) Require(key string) (string, error) {
	v := c[key]
	if v == "" {
		return "", errors.Reason("missing required configuration key '%s'", key)
	}
	return v, nil
}

// Connector is one data source. Schema declares its destination tables;
// Update fetches everything newer than the given state and emits upserts
// and checkpoints.
type Connector struct {
	Name   string
	Schema func(ctx context.Context, cfg Config) ([]Table, error)
	Update func(ctx context.Context, cfg Config, state State, emit EmitFunc) error
}
