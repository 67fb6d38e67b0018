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
	"os"

	"github.com/stockparfait/errors"
)

// State is the connector's incremental cursor, persisted between runs as a
// JSON file.
type State map[string]any

// GetString returns the string value of key, or def when the key is absent
// or not a string.
func (s State) GetString(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Copy returns a shallow copy, so a connector can update its cursor without
// mutating the state it was given.
func (s State) Copy() State {
	res := make(State, len(s))
	for k, v := range s {
		res[k] = v
	}
	return res
}

// LoadState reads the state file. A missing file is an empty state, not an
// error.
func LoadState(path string) (State, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return nil, errors.Annotate(err, "failed to open state file '%s'", path)
	}
	defer f.Close()

	var s State
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Annotate(err, "failed to decode state file '%s'", path)
	}
	return s, nil
}

// Save writes the state file, overwriting the previous checkpoint.
func (s State) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Annotate(err, "failed to create state file '%s'", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return errors.Annotate(err, "failed to encode state file '%s'", path)
	}
	return nil
}
