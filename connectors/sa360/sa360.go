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

// Package sa360 syncs keyword-level custom column metrics from the Search
// Ads 360 reporting API. It walks every client account under the configured
// submanager accounts, discovers each client's custom columns and reports
// one metric row per keyword, day and column.
package sa360

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JLadd-Moore/fivetran-custom-connector/api"
	"github.com/JLadd-Moore/fivetran-custom-connector/connector"
	"github.com/JLadd-Moore/fivetran-custom-connector/schema"
	"github.com/stockparfait/errors"
	"golang.org/x/oauth2"
)

const (
	defaultEndpointURL = "https://searchads360.googleapis.com/v0"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultPageSize    = 10000
	defaultLookback    = 30 * 24 * time.Hour
)

const customerClientsQuery = "SELECT customer_client.id FROM customer_client"

type searchRequest struct {
	Query     string `json:"query" required:"true"`
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

func (r *searchRequest) InitRecord(js any) error {
	return schema.Init(r, js)
}

type searchResponse struct {
	schema.AllowUnknown
	Results             []any  `json:"results"`
	NextPageToken       string `json:"nextPageToken"`
	CustomColumnHeaders []any  `json:"customColumnHeaders"`
}

func (r *searchResponse) InitRecord(js any) error {
	return schema.Init(r, js)
}

func nextFromPageToken(resp *http.Response, payload any, params *api.Params) (*api.Params, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, nil
	}
	token, _ := m["nextPageToken"].(string)
	if token == "" {
		return nil, nil
	}
	return &api.Params{Fields: map[string]any{"pageToken": token}}, nil
}

func newClient(cfg connector.Config) (*api.Client, error) {
	clientID, err := cfg.Require("google_client_id")
	if err != nil {
		return nil, err
	}
	clientSecret, err := cfg.Require("google_client_secret")
	if err != nil {
		return nil, err
	}
	refreshToken, err := cfg.Require("google_refresh_token")
	if err != nil {
		return nil, err
	}
	loginCustomerID, err := cfg.Require("google_login_customer_id")
	if err != nil {
		return nil, err
	}
	auth := &api.OAuth2RefreshAuth{
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.Get("token_url", defaultTokenURL),
			},
		},
		RefreshToken: refreshToken,
		ExtraHeader:  http.Header{"Login-Customer-Id": {loginCustomerID}},
	}
	return api.NewClient(auth, []*api.Endpoint{
		{
			Name:           "search",
			Path:           "customers/{customerId}/searchAds360:search",
			Method:         "POST",
			RequestSchema:  func() schema.Record { return &searchRequest{} },
			ResponseSchema: func() schema.Record { return &searchResponse{} },
			NextPageV2:     nextFromPageToken,
		},
		{
			Name:         "customColumns",
			Path:         "customers/{customerId}/customColumns",
			ExtractItems: api.ItemsAtPath("customColumns"),
		},
	}, api.WithBaseURL(cfg.Get("endpoint_url", defaultEndpointURL)))
}

func tables(ctx context.Context, cfg connector.Config) ([]connector.Table, error) {
	return []connector.Table{{
		Name: "custom_column_metrics",
		PrimaryKey: []string{
			"date", "customer_id", "campaign_id", "ad_group_id",
			"criterion_id", "column_id",
		},
		Columns: map[string]connector.ColumnType{
			"date":          connector.String,
			"customer_id":   connector.String,
			"customer_name": connector.String,
			"currency_code": connector.String,
			"campaign_id":   connector.String,
			"campaign_name": connector.String,
			"ad_group_id":   connector.String,
			"ad_group_name": connector.String,
			"criterion_id":  connector.String,
			"keyword_text":  connector.String,
			"match_type":    connector.String,
			"clicks":        connector.Int,
			"impressions":   connector.Int,
			"cost_micros":   connector.Int,
			"column_id":     connector.String,
			"value":         connector.Float,
		},
	}}, nil
}

// keywordQuery builds the keyword_view report selecting the given custom
// columns over a closed date range.
func keywordQuery(columnIDs []string, start, end string) string {
	fields := []string{
		"campaign.id", "campaign.name",
		"ad_group.id", "ad_group.name",
		"ad_group_criterion.criterion_id",
		"ad_group_criterion.keyword.text",
		"ad_group_criterion.keyword.match_type",
		"metrics.clicks", "metrics.impressions", "metrics.cost_micros",
		"customer.currency_code", "customer.descriptive_name",
		"segments.date",
	}
	for _, id := range columnIDs {
		fields = append(fields, fmt.Sprintf("custom_columns.id[%s]", id))
	}
	return fmt.Sprintf(
		"SELECT %s FROM keyword_view WHERE segments.date BETWEEN '%s' AND '%s' ORDER BY segments.date ASC",
		strings.Join(fields, ", "), start, end)
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%v", x)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case float64:
		return int(x)
	case string:
		var n int
		fmt.Sscanf(x, "%d", &n)
		return n
	}
	return 0
}

func subMap(m map[string]any, key string) map[string]any {
	sub, _ := m[key].(map[string]any)
	return sub
}

// metricRows zips each result's custom column cells against the page-level
// customColumnHeaders and flattens the row per column.
func metricRows(payload map[string]any, customerID string) []connector.Row {
	headers, _ := payload["customColumnHeaders"].([]any)
	results, _ := payload["results"].([]any)
	rows := []connector.Row{}
	for _, r := range results {
		record, ok := r.(map[string]any)
		if !ok {
			continue
		}
		campaign := subMap(record, "campaign")
		adGroup := subMap(record, "adGroup")
		criterion := subMap(record, "adGroupCriterion")
		keyword := subMap(criterion, "keyword")
		metrics := subMap(record, "metrics")
		customer := subMap(record, "customer")
		segments := subMap(record, "segments")
		cells, _ := record["customColumns"].([]any)
		for i, h := range cells {
			if i >= len(headers) {
				break
			}
			header, _ := headers[i].(map[string]any)
			cell, _ := h.(map[string]any)
			value, ok := cell["doubleValue"].(float64)
			if !ok {
				continue
			}
			rows = append(rows, connector.Row{
				"date":          asString(segments["date"]),
				"customer_id":   customerID,
				"customer_name": asString(customer["descriptiveName"]),
				"currency_code": asString(customer["currencyCode"]),
				"campaign_id":   asString(campaign["id"]),
				"campaign_name": asString(campaign["name"]),
				"ad_group_id":   asString(adGroup["id"]),
				"ad_group_name": asString(adGroup["name"]),
				"criterion_id":  asString(criterion["criterionId"]),
				"keyword_text":  asString(keyword["text"]),
				"match_type":    asString(keyword["matchType"]),
				"clicks":        asInt(metrics["clicks"]),
				"impressions":   asInt(metrics["impressions"]),
				"cost_micros":   asInt(metrics["costMicros"]),
				"column_id":     asString(header["id"]),
				"value":         value,
			})
		}
	}
	return rows
}

func update(ctx context.Context, cfg connector.Config, state connector.State, emit connector.EmitFunc) error {
	elog := connector.NewEventLogger("sa360", "custom_columns")
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	accounts, err := cfg.Require("submanager_account_ids")
	if err != nil {
		return err
	}
	submanagers := []string{}
	for _, a := range strings.Split(accounts, ",") {
		if a = strings.TrimSpace(a); a != "" {
			submanagers = append(submanagers, a)
		}
	}
	if len(submanagers) == 0 {
		return errors.Reason("submanager_account_ids is empty")
	}

	now := time.Now().UTC()
	start := state.GetString("iterative_date_cursor",
		cfg.Get("start_date", now.Add(-defaultLookback).Format("2006-01-02")))
	end := now.Format("2006-01-02")
	elog.Info(ctx, "sync_start",
		connector.KV{Key: "submanagers", Value: len(submanagers)},
		connector.KV{Key: "start_date", Value: start},
		connector.KV{Key: "end_date", Value: end})

	s := syncer{client: client, elog: elog, emit: emit, start: start, end: end}

	// Cursor checkpoints carry the rest of the state forward, so a run
	// interrupted mid-traversal keeps its date cursor.
	cur := state.Copy()
	subStart := asInt(state["sub_cursor"])
	customerStart := asInt(state["customer_cursor"])
	for i := subStart; i < len(submanagers); i++ {
		sub := submanagers[i]
		clients, err := s.customerClients(ctx, sub)
		if err != nil {
			return errors.Annotate(err, "failed to list clients of submanager %s", sub)
		}
		elog.Info(ctx, "clients_listed",
			connector.KV{Key: "submanager", Value: sub},
			connector.KV{Key: "count", Value: len(clients)})
		for j := customerStart; j < len(clients); j++ {
			if err := s.syncCustomer(ctx, clients[j]); err != nil {
				return err
			}
			cur["sub_cursor"] = i
			cur["customer_cursor"] = j + 1
			if err := emit(connector.Checkpoint{State: cur.Copy()}); err != nil {
				return err
			}
		}
		customerStart = 0
		cur["sub_cursor"] = i + 1
		cur["customer_cursor"] = 0
		if err := emit(connector.Checkpoint{State: cur.Copy()}); err != nil {
			return err
		}
	}
	delete(cur, "sub_cursor")
	delete(cur, "customer_cursor")
	cur["iterative_date_cursor"] = end
	if err := emit(connector.Checkpoint{State: cur.Copy()}); err != nil {
		return err
	}
	elog.Info(ctx, "sync_complete")
	return nil
}

type syncer struct {
	client *api.Client
	elog   *connector.EventLogger
	emit   connector.EmitFunc
	start  string
	end    string
}

// customerClients lists the client accounts under a submanager, excluding
// the submanager itself.
func (s *syncer) customerClients(ctx context.Context, submanager string) ([]string, error) {
	search, err := s.client.Endpoint("search")
	if err != nil {
		return nil, err
	}
	clients := []string{}
	it := search.Items(ctx, &api.Params{
		PathArgs: map[string]string{"customerId": submanager},
		Fields: map[string]any{
			"query":    customerClientsQuery,
			"pageSize": defaultPageSize,
		},
	})
	for {
		item, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := asString(subMap(record, "customerClient")["id"])
		if id == "" || id == submanager {
			continue
		}
		clients = append(clients, id)
	}
	return clients, nil
}

// customColumnIDs discovers the custom columns defined for a client account.
func (s *syncer) customColumnIDs(ctx context.Context, customerID string) ([]string, error) {
	columns, err := s.client.Endpoint("customColumns")
	if err != nil {
		return nil, err
	}
	items, err := columns.All(ctx, &api.Params{
		PathArgs: map[string]string{"customerId": customerID}})
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, item := range items {
		column, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id := asString(column["id"]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// syncCustomer reports keyword metrics for one client account, one page at a
// time, zipping custom column values against the page headers.
func (s *syncer) syncCustomer(ctx context.Context, customerID string) error {
	columnIDs, err := s.customColumnIDs(ctx, customerID)
	if err != nil {
		return errors.Annotate(err, "failed to list custom columns of customer %s", customerID)
	}
	if len(columnIDs) == 0 {
		s.elog.Info(ctx, "customer_skipped",
			connector.KV{Key: "customer", Value: customerID},
			connector.KV{Key: "reason", Value: "no custom columns"})
		return nil
	}
	search, err := s.client.Endpoint("search")
	if err != nil {
		return err
	}
	pages := search.Pages(ctx, &api.Params{
		PathArgs: map[string]string{"customerId": customerID},
		Fields: map[string]any{
			"query":    keywordQuery(columnIDs, s.start, s.end),
			"pageSize": defaultPageSize,
		},
	})
	count := 0
	for {
		page, ok, err := pages.Next()
		if err != nil {
			return errors.Annotate(err, "failed to fetch keyword metrics of customer %s", customerID)
		}
		if !ok {
			break
		}
		payload, ok := page.Payload.(map[string]any)
		if !ok {
			continue
		}
		for _, row := range metricRows(payload, customerID) {
			if err := s.emit(connector.Upsert{
				Table: "custom_column_metrics", Row: row}); err != nil {
				return err
			}
			count++
		}
	}
	s.elog.Info(ctx, "customer_synced",
		connector.KV{Key: "customer", Value: customerID},
		connector.KV{Key: "rows", Value: count})
	return nil
}

// New creates the Search Ads 360 custom columns connector.
func New() *connector.Connector {
	return &connector.Connector{Name: "sa360", Schema: tables, Update: update}
}
