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

// Package weather syncs the National Weather Service forecast for a fixed
// gridpoint into a "period" table. The NWS API is public, so the connector
// runs without credentials. Configuring a latitude/longitude resolves the
// gridpoint forecast URL through the points API; otherwise the default
// Myrtle Beach gridpoint is used.
package weather

import (
	"context"
	"fmt"

	"github.com/JLadd-Moore/fivetran-custom-connector/api"
	"github.com/JLadd-Moore/fivetran-custom-connector/connector"
	"github.com/JLadd-Moore/fivetran-custom-connector/schema"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
)

const defaultForecastURL = "https://api.weather.gov/gridpoints/ILM/58,40/forecast"

const defaultCursor = "0001-01-01T00:00:00Z"

type forecastResponse struct {
	schema.AllowUnknown
	Properties map[string]any `json:"properties" required:"true"`
}

func (r *forecastResponse) InitRecord(js any) error {
	return schema.Init(r, js)
}

// pointsResponse is the subset of the NWS points API payload locating the
// gridpoint forecast for a coordinate.
type pointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

// forecastURL resolves the gridpoint forecast URL: an explicit forecast_url
// wins, then a latitude/longitude pair through the points API, then the
// default gridpoint.
func forecastURL(ctx context.Context, cfg connector.Config) (string, error) {
	if u := cfg.Get("forecast_url", ""); u != "" {
		return u, nil
	}
	lat, lon := cfg.Get("latitude", ""), cfg.Get("longitude", "")
	if lat == "" || lon == "" {
		return defaultForecastURL, nil
	}
	uri := fmt.Sprintf("%s/points/%s,%s",
		cfg.Get("points_url", "https://api.weather.gov"), lat, lon)
	var points pointsResponse
	if err := fetch.FetchJSON(ctx, uri, &points, nil, nil); err != nil {
		return "", errors.Annotate(err, "failed to resolve gridpoint for %s,%s", lat, lon)
	}
	if points.Properties.Forecast == "" {
		return "", errors.Reason("points API returned no forecast URL for %s,%s", lat, lon)
	}
	return points.Properties.Forecast, nil
}

func tables(ctx context.Context, cfg connector.Config) ([]connector.Table, error) {
	return []connector.Table{{
		Name:       "period",
		PrimaryKey: []string{"startTime"},
		Columns: map[string]connector.ColumnType{
			"name":        connector.String,
			"startTime":   connector.UTCDatetime,
			"endTime":     connector.UTCDatetime,
			"temperature": connector.Int,
		},
	}}, nil
}

func update(ctx context.Context, cfg connector.Config, state connector.State, emit connector.EmitFunc) error {
	elog := connector.NewEventLogger("weather", "forecast")
	cursor := state.GetString("startTime", defaultCursor)
	elog.Info(ctx, "sync_start", connector.KV{Key: "cursor", Value: cursor})

	uri, err := forecastURL(ctx, cfg)
	if err != nil {
		return err
	}
	client, err := api.NewClient(api.NoAuth{}, []*api.Endpoint{{
		Name:           "forecast",
		Path:           uri,
		ResponseSchema: func() schema.Record { return &forecastResponse{} },
		ExtractItems:   api.ItemsAtPath("properties.periods"),
	}})
	if err != nil {
		return err
	}
	h, err := client.Endpoint("forecast")
	if err != nil {
		return err
	}

	count := 0
	it := h.Items(ctx, nil)
	for {
		item, ok, err := it.Next()
		if err != nil {
			return errors.Annotate(err, "failed to fetch forecast")
		}
		if !ok {
			break
		}
		period, ok := item.(map[string]any)
		if !ok {
			return errors.Reason("unexpected forecast period type %T", item)
		}
		if start, ok := period["startTime"].(string); ok && start > cursor {
			cursor = start
		}
		if err := emit(connector.Upsert{Table: "period", Row: connector.Row(period)}); err != nil {
			return err
		}
		count++
	}

	if err := emit(connector.Checkpoint{State: connector.State{"startTime": cursor}}); err != nil {
		return err
	}
	elog.Info(ctx, "sync_complete",
		connector.KV{Key: "periods", Value: count},
		connector.KV{Key: "cursor", Value: cursor})
	return nil
}

// New creates the weather connector.
func New() *connector.Connector {
	return &connector.Connector{Name: "weather", Schema: tables, Update: update}
}
