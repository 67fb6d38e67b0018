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
	"context"
	"fmt"
	"strings"

	"github.com/stockparfait/logging"
)

// KV is one ordered key-value detail of a logged event.
type KV struct {
	Key   string
	Value any
}

// EventLogger emits single-line connector events in the form
//
//	[connector] [service] event (k=v, k=v)
//
// through the context-carried logger. Keys keep their given order.
type EventLogger struct {
	connector string
	service   string
}

// NewEventLogger creates an event logger for one connector/service pair,
// e.g. ("everyaction", "people").
func NewEventLogger(connector, service string) *EventLogger {
	return &EventLogger{connector: connector, service: service}
}

// WithService derives a logger for another service of the same connector.
func (l *EventLogger) WithService(service string) *EventLogger {
	return &EventLogger{connector: l.connector, service: service}
}

func (l *EventLogger) format(event string, kvs []KV) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] %s", l.connector, l.service, event)
	if len(kvs) > 0 {
		sb.WriteString(" (")
		for i, kv := range kvs {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", kv.Key, kv.Value)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func (l *EventLogger) Debug(ctx context.Context, event string, kvs ...KV) {
	logging.Debugf(ctx, "%s", l.format(event, kvs))
}

func (l *EventLogger) Info(ctx context.Context, event string, kvs ...KV) {
	logging.Infof(ctx, "%s", l.format(event, kvs))
}

func (l *EventLogger) Warning(ctx context.Context, event string, kvs ...KV) {
	logging.Warningf(ctx, "%s", l.format(event, kvs))
}

func (l *EventLogger) Error(ctx context.Context, event string, kvs ...KV) {
	logging.Errorf(ctx, "%s", l.format(event, kvs))
}
