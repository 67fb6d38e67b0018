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

// Package everyaction syncs people and contributions from the EveryAction
// (NGP VAN) API. The first run walks every configured state with the people
// search endpoint and fans out per-person contribution lookups; later runs
// use the changed-entity export jobs: create a job, poll until complete and
// stream the resulting CSV files without buffering them.
package everyaction

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JLadd-Moore/fivetran-custom-connector/api"
	"github.com/JLadd-Moore/fivetran-custom-connector/connector"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
)

const defaultBaseURL = "https://api.securevan.com/v4"

var usStateCodes = []string{
	"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "DC", "FL", "GA", "HI",
	"ID", "IL", "IN", "IA", "KS", "KY", "LA", "ME", "MD", "MA", "MI", "MN",
	"MS", "MO", "MT", "NE", "NV", "NH", "NJ", "NM", "NY", "NC", "ND", "OH",
	"OK", "OR", "PA", "RI", "SC", "SD", "TN", "TX", "UT", "VT", "VA", "WA",
	"WV", "WI", "WY",
}

// rateLimitTransport retries 429 responses with exponential backoff. Other
// statuses and transport errors pass through untouched.
type rateLimitTransport struct {
	base    http.RoundTripper
	retries int
	backoff time.Duration
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	for attempt := 0; attempt < t.retries; attempt++ {
		if err != nil || resp.StatusCode != http.StatusTooManyRequests {
			return resp, err
		}
		resp.Body.Close()
		delay := t.backoff << attempt
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, errors.Annotate(bodyErr, "failed to rewind request body")
			}
			req.Body = body
		}
		resp, err = t.base.RoundTrip(req)
	}
	return resp, err
}

// nextFromPageLink parses the nextPageLink URL of a page payload into a
// wholesale query replacement for the next request. No link terminates the
// sequence.
func nextFromPageLink(resp *http.Response, payload any, params *api.Params) (*api.Params, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, nil
	}
	link, _ := m["nextPageLink"].(string)
	if link == "" {
		return nil, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, errors.Annotate(err, "malformed nextPageLink '%s'", link)
	}
	flat := map[string]any{}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}
	return &api.Params{Query: flat}, nil
}

func newClient(cfg connector.Config) (*api.Client, error) {
	username, err := cfg.Require("username")
	if err != nil {
		return nil, err
	}
	password, err := cfg.Require("password")
	if err != nil {
		return nil, err
	}
	backoff, err := time.ParseDuration(cfg.Get("rate_limit_backoff", "1s"))
	if err != nil {
		return nil, errors.Annotate(err, "invalid rate_limit_backoff")
	}
	jsonHeaders := &api.Params{Header: http.Header{
		"Accept":       {"application/json"},
		"Content-Type": {"application/json"},
	}}
	return api.NewClient(
		api.BasicAuth{Username: username, Password: password},
		[]*api.Endpoint{
			{
				Name:          "people",
				Path:          "people",
				DefaultParams: jsonHeaders,
				ExtractItems:  api.ItemsAtPath("items"),
				NextPageV2:    nextFromPageLink,
			},
			{
				Name:          "recentContributions",
				Path:          "contributions/recentContributions",
				DefaultParams: jsonHeaders,
				ExtractItems:  api.ItemsAtPath("items"),
				NextPageV2:    nextFromPageLink,
			},
			{
				Name:          "createExportJob",
				Path:          "changedEntityExportJobs",
				Method:        "POST",
				DefaultParams: jsonHeaders,
			},
			{
				Name:          "jobStatus",
				Path:          "changedEntityExportJobs/{exportJobId}",
				DefaultParams: jsonHeaders,
			},
			{
				// Called with Params.URL set to a pre-signed download link.
				Name:        "downloadCsv",
				Codec:       &api.CSVCodec{Stream: true},
				StreamPages: true,
			},
		},
		api.WithBaseURL(cfg.Get("base_url", defaultBaseURL)),
		api.WithHTTPClient(&http.Client{Transport: &rateLimitTransport{
			base:    http.DefaultTransport,
			retries: 3,
			backoff: backoff,
		}}),
	)
}

func tables(ctx context.Context, cfg connector.Config) ([]connector.Table, error) {
	return []connector.Table{
		{
			Name:       "people",
			PrimaryKey: []string{"vanId"},
			Columns: map[string]connector.ColumnType{
				"vanId":       connector.Int,
				"firstName":   connector.String,
				"middleName":  connector.String,
				"lastName":    connector.String,
				"party":       connector.String,
				"employer":    connector.String,
				"occupation":  connector.String,
				"sex":         connector.String,
				"dateOfBirth": connector.String,
				"emails":      connector.String,
				"phones":      connector.String,
				"addresses":   connector.String,
				"state_code":  connector.String,
			},
		},
		{
			Name:       "contributions",
			PrimaryKey: []string{"contactsContributionId"},
			Columns: map[string]connector.ColumnType{
				"contactsContributionId": connector.Int,
				"vanId":                  connector.Int,
				"van_id":                 connector.String,
				"donorName":              connector.String,
				"designationId":          connector.Int,
				"designationName":        connector.String,
				"dateReceived":           connector.String,
				"amount":                 connector.String,
				"amountRemaining":        connector.String,
				"sourceCodeId":           connector.Int,
				"sourceCodeName":         connector.String,
			},
		},
	}, nil
}

// toInt coerces a decoded JSON number or numeric string to int; ok is false
// when the value is neither.
func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}

func transformPerson(person map[string]any, stateCode string) connector.Row {
	if id, ok := toInt(person["vanId"]); ok {
		person["vanId"] = id
	}
	person["state_code"] = stateCode
	return connector.Row(person)
}

func transformContribution(contribution map[string]any, vanID int) connector.Row {
	for _, key := range []string{"contactsContributionId", "vanId", "designationId", "sourceCodeId"} {
		if n, ok := toInt(contribution[key]); ok {
			contribution[key] = n
		}
	}
	contribution["van_id"] = strconv.Itoa(vanID)
	return connector.Row(contribution)
}

func update(ctx context.Context, cfg connector.Config, state connector.State, emit connector.EmitFunc) error {
	elog := connector.NewEventLogger("everyaction", "connector")
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	s := syncer{client: client, cfg: cfg, elog: elog}
	if done, _ := state["initial_sync_complete"].(bool); done {
		elog.Info(ctx, "sync_start", connector.KV{Key: "mode", Value: "incremental"})
		return s.incremental(ctx, state, emit)
	}
	elog.Info(ctx, "sync_start", connector.KV{Key: "mode", Value: "initial"})
	return s.initial(ctx, state, emit)
}

type syncer struct {
	client *api.Client
	cfg    connector.Config
	elog   *connector.EventLogger
}

func (s *syncer) stateCodes() []string {
	if csv := s.cfg.Get("state_codes", ""); csv != "" {
		return splitCSV(csv)
	}
	return usStateCodes
}

// initial walks every state, upserting people page by page and fanning out
// per-person contribution lookups, checkpointing progress after each state.
func (s *syncer) initial(ctx context.Context, state connector.State, emit connector.EmitFunc) error {
	people, err := s.client.Endpoint("people")
	if err != nil {
		return err
	}
	codes := s.stateCodes()
	start := 0
	if i, ok := toInt(state["state_cursor_index"]); ok {
		start = i
	}
	for i := start; i < len(codes); i++ {
		code := codes[i]
		s.elog.Info(ctx, "state_start",
			connector.KV{Key: "index", Value: i + 1},
			connector.KV{Key: "total", Value: len(codes)},
			connector.KV{Key: "state", Value: code})

		pages := people.Pages(ctx, &api.Params{Fields: map[string]any{
			"stateOrProvince": code, "$top": 200}})
		pageNum := 0
		for {
			page, ok, err := pages.Next()
			if err != nil {
				return errors.Annotate(err, "failed to fetch people for state %s", code)
			}
			if !ok {
				break
			}
			pageNum++
			if len(page.Items) == 0 {
				s.elog.Info(ctx, "page_empty",
					connector.KV{Key: "state", Value: code},
					connector.KV{Key: "page", Value: pageNum})
				continue
			}
			vanIDs := []int{}
			for _, item := range page.Items {
				person, ok := item.(map[string]any)
				if !ok {
					continue
				}
				row := transformPerson(person, code)
				if err := emit(connector.Upsert{Table: "people", Row: row}); err != nil {
					return err
				}
				if id, ok := row["vanId"].(int); ok {
					vanIDs = append(vanIDs, id)
				}
			}
			s.elog.Info(ctx, "people_upserted",
				connector.KV{Key: "state", Value: code},
				connector.KV{Key: "page", Value: pageNum},
				connector.KV{Key: "count", Value: len(page.Items)})
			if err := s.syncContributions(ctx, vanIDs, emit); err != nil {
				return err
			}
		}
		if err := emit(connector.Checkpoint{State: connector.State{
			"state_cursor_index":    i + 1,
			"initial_sync_complete": false,
		}}); err != nil {
			return err
		}
	}
	if err := emit(connector.Checkpoint{State: connector.State{
		"initial_sync_complete": true,
		"last_sync_timestamp":   time.Now().UTC().Format(time.RFC3339),
	}}); err != nil {
		return err
	}
	s.elog.Info(ctx, "sync_complete", connector.KV{Key: "mode", Value: "initial"})
	return nil
}

type contribBatch struct {
	rows []connector.Row
	err  error
}

// syncContributions fetches recent contributions for a page worth of people
// in parallel and emits them serially.
func (s *syncer) syncContributions(ctx context.Context, vanIDs []int, emit connector.EmitFunc) error {
	if len(vanIDs) == 0 {
		return nil
	}
	contributions, err := s.client.Endpoint("recentContributions")
	if err != nil {
		return err
	}
	f := func(vanID int) contribBatch {
		items, err := contributions.All(ctx, &api.Params{Fields: map[string]any{
			"vanId": vanID, "$top": 200}})
		if err != nil {
			return contribBatch{err: errors.Annotate(err,
				"failed to fetch contributions for vanId %d", vanID)}
		}
		batch := contribBatch{}
		for _, item := range items {
			c, ok := item.(map[string]any)
			if !ok {
				continue
			}
			batch.rows = append(batch.rows, transformContribution(c, vanID))
		}
		return batch
	}
	// Reduce drains the iterator fully, so the workers always run to
	// completion.
	pm := iterator.ParallelMap(ctx, 4, iterator.FromSlice(vanIDs), f)
	batches := iterator.Reduce[contribBatch, []contribBatch](pm, nil,
		func(b contribBatch, acc []contribBatch) []contribBatch {
			return append(acc, b)
		})
	count := 0
	for _, b := range batches {
		if b.err != nil {
			return b.err
		}
		for _, row := range b.rows {
			if err := emit(connector.Upsert{Table: "contributions", Row: row}); err != nil {
				return err
			}
			count++
		}
	}
	s.elog.Info(ctx, "contributions_upserted", connector.KV{Key: "count", Value: count})
	return nil
}

// incremental syncs everything changed since the last run through the
// changed-entity export jobs.
func (s *syncer) incremental(ctx context.Context, state connector.State, emit connector.EmitFunc) error {
	since := state.GetString("last_sync_timestamp", "")
	if since == "" {
		s.elog.Warning(ctx, "incremental_missing_cursor")
		return s.initial(ctx, connector.State{}, emit)
	}
	contacts, err := s.runExport(ctx, since, "Contacts", mapExportedContact, "people", emit)
	if err != nil {
		return err
	}
	contributions, err := s.runExport(ctx, since, "Contributions",
		mapExportedContribution, "contributions", emit)
	if err != nil {
		return err
	}
	if contacts == 0 && contributions == 0 {
		s.elog.Warning(ctx, "incremental_no_data")
	}
	if err := emit(connector.Checkpoint{State: connector.State{
		"initial_sync_complete": true,
		"last_sync_timestamp":   time.Now().UTC().Format(time.RFC3339),
	}}); err != nil {
		return err
	}
	s.elog.Info(ctx, "sync_complete", connector.KV{Key: "mode", Value: "incremental"})
	return nil
}

// runExport creates a changed-entity export job, polls it to completion and
// streams the resulting CSV files into table upserts.
func (s *syncer) runExport(ctx context.Context, since, resourceType string,
	mapper func(map[string]string) connector.Row, tbl string, emit connector.EmitFunc) (int, error) {

	create, err := s.client.Endpoint("createExportJob")
	if err != nil {
		return 0, err
	}
	page, err := create.Fetch(ctx, &api.Params{Fields: map[string]any{
		"resourceType":    resourceType,
		"dateChangedFrom": since,
		"includeInactive": false,
		"fileSizeKbLimit": 40000,
	}})
	if err != nil {
		return 0, errors.Annotate(err, "failed to create %s export job", resourceType)
	}
	job, ok := page.Payload.(map[string]any)
	if !ok {
		return 0, errors.Reason("unexpected export job payload %T", page.Payload)
	}
	jobID, ok := toInt(job["exportJobId"])
	if !ok {
		return 0, errors.Reason("export job response has no exportJobId: %v", job)
	}
	s.elog.Info(ctx, "export_created",
		connector.KV{Key: "export_job_id", Value: jobID},
		connector.KV{Key: "resource_type", Value: resourceType})

	completed, err := s.pollJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	files, _ := completed["files"].([]any)
	download, err := s.client.Endpoint("downloadCsv")
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range files {
		file, ok := f.(map[string]any)
		if !ok {
			continue
		}
		link, _ := file["downloadUrl"].(string)
		if link == "" {
			continue
		}
		it := download.Items(ctx, &api.Params{URL: link})
		for {
			item, ok, err := it.Next()
			if err != nil {
				return 0, errors.Annotate(err, "failed to stream export file")
			}
			if !ok {
				break
			}
			row, ok := item.(map[string]string)
			if !ok {
				continue
			}
			mapped := mapper(row)
			if mapped == nil {
				continue
			}
			if err := emit(connector.Upsert{Table: tbl, Row: mapped}); err != nil {
				return 0, err
			}
			count++
		}
	}
	s.elog.Info(ctx, "export_records_processed",
		connector.KV{Key: "resource_type", Value: resourceType},
		connector.KV{Key: "count", Value: count})
	return count, nil
}

// pollJob waits for an export job to complete, checking on an interval.
func (s *syncer) pollJob(ctx context.Context, jobID int) (map[string]any, error) {
	interval, err := time.ParseDuration(s.cfg.Get("poll_interval", "10s"))
	if err != nil {
		return nil, errors.Annotate(err, "invalid poll_interval")
	}
	status, err := s.client.Endpoint("jobStatus")
	if err != nil {
		return nil, err
	}
	params := &api.Params{PathArgs: map[string]string{
		"exportJobId": strconv.Itoa(jobID)}}
	for {
		page, err := status.Fetch(ctx, params)
		if err != nil {
			return nil, errors.Annotate(err, "failed to poll export job %d", jobID)
		}
		job, ok := page.Payload.(map[string]any)
		if !ok {
			return nil, errors.Reason("unexpected job status payload %T", page.Payload)
		}
		switch st, _ := job["jobStatus"].(string); st {
		case "Complete":
			return job, nil
		case "Failed", "Cancelled", "Error":
			return nil, errors.Reason("export job %d failed with status '%s'", jobID, st)
		default:
			s.elog.Debug(ctx, "export_status",
				connector.KV{Key: "export_job_id", Value: jobID},
				connector.KV{Key: "status", Value: st})
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// mapExportedContact maps a changed-entity contacts CSV row onto the people
// table. Rows flagged with an error or missing a VanID are skipped.
func mapExportedContact(row map[string]string) connector.Row {
	if row["ErrorMessage"] != "" {
		return nil
	}
	vanID, err := strconv.Atoi(row["VanID"])
	if err != nil {
		return nil
	}
	address := joinNonEmpty(" ",
		row["StreetAddress"], row["City"], row["State"], row["ZipOrPostal"])
	return connector.Row{
		"vanId":      vanID,
		"firstName":  row["FirstName"],
		"middleName": row["MiddleName"],
		"lastName":   row["LastName"],
		"emails":     row["Email"],
		"phones":     row["Phone"],
		"addresses":  address,
		"state_code": row["State"],
	}
}

// mapExportedContribution maps a changed-entity contributions CSV row onto
// the contributions table.
func mapExportedContribution(row map[string]string) connector.Row {
	if row["ErrorMessage"] != "" {
		return nil
	}
	contributionID, err := strconv.Atoi(row["ContributionID"])
	if err != nil {
		return nil
	}
	vanID, err := strconv.Atoi(row["VanID"])
	if err != nil {
		return nil
	}
	return connector.Row{
		"contactsContributionId": contributionID,
		"vanId":                  vanID,
		"van_id":                 row["VanID"],
		"amount":                 row["Amount"],
		"amountRemaining":        row["AmountRemaining"],
		"dateReceived":           row["DateReceived"],
		"designationName":        row["Designation"],
		"sourceCodeName":         row["SourceCode"],
	}
}

func splitCSV(s string) []string {
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func joinNonEmpty(sep string, parts ...string) string {
	nonEmpty := []string{}
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, sep)
}

// New creates the everyaction connector.
func New() *connector.Connector {
	return &connector.Connector{Name: "everyaction", Schema: tables, Update: update}
}
