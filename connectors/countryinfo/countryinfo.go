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

// Package countryinfo syncs the public CountryInfoService SOAP API into a
// "countries" table: one listing call for all ISO codes, then a
// FullCountryInfo call per country, including the comma-joined list of
// spoken languages.
package countryinfo

import (
	"context"
	"strings"
	"time"

	"github.com/JLadd-Moore/fivetran-custom-connector/api"
	"github.com/JLadd-Moore/fivetran-custom-connector/connector"
	"github.com/beevik/etree"
	"github.com/stockparfait/errors"
)

const (
	defaultServiceURL = "http://www.oorsprong.org/websamples.countryinfo/CountryInfoService.wso"
	countryInfoNS     = "http://www.oorsprong.org/websamples.countryinfo"
)

// soapEnvelope renders a single-operation SOAP 1.1 request body. The
// operation element carries the service namespace; children are plain
// name/text pairs.
func soapEnvelope(operation string, children map[string]string) (string, error) {
	doc := etree.NewDocument()
	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", "http://schemas.xmlsoap.org/soap/envelope/")
	body := env.CreateElement("soap:Body")
	op := body.CreateElement(operation)
	op.CreateAttr("xmlns", countryInfoNS)
	for name, text := range children {
		op.CreateElement(name).SetText(text)
	}
	s, err := doc.WriteToString()
	if err != nil {
		return "", errors.Annotate(err, "failed to serialize SOAP envelope")
	}
	return s, nil
}

func listEnvelope(fields map[string]any) (string, error) {
	return soapEnvelope("ListOfCountryNamesByCode", nil)
}

func fullInfoEnvelope(fields map[string]any) (string, error) {
	code, _ := fields["sCountryISOCode"].(string)
	if code == "" {
		return "", errors.Reason("missing sCountryISOCode")
	}
	return soapEnvelope("FullCountryInfo", map[string]string{"sCountryISOCode": code})
}

func newClient(cfg connector.Config) (*api.Client, error) {
	serviceURL := cfg.Get("service_url", defaultServiceURL)
	return api.NewClient(api.NoAuth{}, []*api.Endpoint{
		{
			Name:   "countryList",
			Path:   serviceURL,
			Method: "POST",
			Codec: &api.SOAPCodec{
				Action:        serviceURL + "/ListOfCountryNamesByCode",
				BuildEnvelope: listEnvelope,
			},
			ExtractItems: api.XMLItems(
				"//ListOfCountryNamesByCodeResult/tCountryCodeAndName",
				map[string]api.XMLField{
					"ISOCode": {Path: "sISOCode"},
					"Name":    {Path: "sName"},
				}),
		},
		{
			Name:   "fullCountryInfo",
			Path:   serviceURL,
			Method: "POST",
			Codec: &api.SOAPCodec{
				Action:        serviceURL + "/FullCountryInfo",
				BuildEnvelope: fullInfoEnvelope,
			},
			ExtractItems: api.XMLItems(
				"//FullCountryInfoResult",
				map[string]api.XMLField{
					"ISOCode":         {Path: "sISOCode"},
					"Name":            {Path: "sName"},
					"CapitalCity":     {Path: "sCapitalCity"},
					"PhoneCode":       {Path: "sPhoneCode"},
					"ContinentCode":   {Path: "sContinentCode"},
					"CurrencyISOCode": {Path: "sCurrencyISOCode"},
					"CountryFlag":     {Path: "sCountryFlag"},
					"Languages": {
						Under: "Languages",
						Each:  "tLanguage/sName",
						Join:  ",",
					},
				}),
		},
	})
}

func tables(ctx context.Context, cfg connector.Config) ([]connector.Table, error) {
	return []connector.Table{{
		Name:       "countries",
		PrimaryKey: []string{"ISOCode"},
		Columns: map[string]connector.ColumnType{
			"ISOCode":         connector.String,
			"Name":            connector.String,
			"CapitalCity":     connector.String,
			"PhoneCode":       connector.String,
			"ContinentCode":   connector.String,
			"CurrencyISOCode": connector.String,
			"CountryFlag":     connector.String,
			"Languages":       connector.String,
		},
	}}, nil
}

func update(ctx context.Context, cfg connector.Config, state connector.State, emit connector.EmitFunc) error {
	elog := connector.NewEventLogger("countryinfo", "countries")
	elog.Info(ctx, "sync_start")

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	list, err := client.Endpoint("countryList")
	if err != nil {
		return err
	}
	full, err := client.Endpoint("fullCountryInfo")
	if err != nil {
		return err
	}

	countries, err := list.All(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "failed to list countries")
	}
	elog.Info(ctx, "countries_listed", connector.KV{Key: "count", Value: len(countries)})

	synced := 0
	for _, item := range countries {
		country, ok := item.(map[string]any)
		if !ok {
			continue
		}
		iso, _ := country["ISOCode"].(string)
		iso = strings.TrimSpace(iso)
		if iso == "" {
			continue
		}
		rows, err := full.All(ctx, &api.Params{
			Fields: map[string]any{"sCountryISOCode": iso}})
		if err != nil {
			return errors.Annotate(err, "failed to fetch full info for '%s'", iso)
		}
		for _, r := range rows {
			row, ok := r.(map[string]any)
			if !ok || row["ISOCode"] == "" {
				continue
			}
			if name, _ := country["Name"].(string); name != "" && row["Name"] == "" {
				row["Name"] = name
			}
			if err := emit(connector.Upsert{Table: "countries", Row: connector.Row(row)}); err != nil {
				return err
			}
			synced++
		}
	}

	if err := emit(connector.Checkpoint{State: connector.State{
		"last_sync": time.Now().UTC().Format(time.RFC3339)}}); err != nil {
		return err
	}
	elog.Info(ctx, "sync_complete", connector.KV{Key: "countries", Value: synced})
	return nil
}

// New creates the countryinfo connector.
func New() *connector.Connector {
	return &connector.Connector{Name: "countryinfo", Schema: tables, Update: update}
}
