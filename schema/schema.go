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

// Package schema implements declarative validation records used as endpoint
// request / response schemas and as connector configurations. A Record is a
// struct pointer whose fields carry `json`, `required`, `default` and
// `choices` tags; Init populates it from a generic JSON value, checks the
// required fields, fills in the defaults and rejects unrecognized fields.
package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stockparfait/errors"
)

// Record is the primitive building block of request, response and
// configuration shapes. It is intended to be implemented by struct pointers:
//
//	type PeopleRequest struct {
//	  State string `json:"stateOrProvince" required:"true"`
//	  Top   int    `json:"$top" default:"50"`
//	}
//
//	func (r *PeopleRequest) InitRecord(js any) error {
//	  return schema.Init(r, js)
//	}
type Record interface {
	// InitRecord converts a generic JSON value (as produced by encoding/json
	// into any) into the specific record, checking required fields, setting
	// defaults and rejecting unknown fields. Nested Records are initialized
	// recursively.
	InitRecord(js any) error
}

// AllowUnknown, when embedded in a Record struct, makes Init tolerate
// fields absent from the struct. Response records typically embed it, since
// an API response carries far more data than the record checks.
type AllowUnknown struct{}

// rRecord is the reflected Record interface type.
var rRecord = reflect.TypeOf((*Record)(nil)).Elem()

var rAllowUnknown = reflect.TypeOf(AllowUnknown{})

func initReflected(jv any, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	if !t.Implements(rRecord) {
		return Nil, errors.Reason("type %s must implement Record", t.Name())
	}
	if t.Kind() != reflect.Ptr {
		return Nil, errors.Reason(
			"type %s implements Record but is not a pointer", t.Name())
	}
	ptr := reflect.New(t.Elem())
	err := ptr.MethodByName("InitRecord").Call(
		[]reflect.Value{reflect.ValueOf(jv)})[0].Interface()
	if err != nil {
		return Nil, errors.Annotate(err.(error), "%s.InitRecord() failed", t.Name())
	}
	return ptr, nil
}

// convert recursively converts a raw JSON value to basic types, slices and
// map[string]* of the target type. Pointer types implementing Record are
// initialized with their InitRecord() method. A nil jv yields the zero or
// default value, as appropriate.
func convert(jv any, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	if t.Implements(rRecord) {
		if jv == nil {
			return reflect.Zero(t), nil
		}
		ptr, err := initReflected(jv, t)
		if err != nil {
			return Nil, errors.Annotate(err, "failed to init Record %s", t.Name())
		}
		return ptr, nil
	}
	if ptrTp := reflect.PtrTo(t); ptrTp.Implements(rRecord) {
		if jv == nil {
			jv = make(map[string]any) // force default values for t
		}
		ptr, err := initReflected(jv, ptrTp)
		if err != nil {
			return Nil, errors.Annotate(err, "failed to init Record %s", t.Name())
		}
		return reflect.Indirect(ptr), nil
	}
	if jv == nil {
		return reflect.Zero(t), nil
	}
	switch t.Kind() {
	case reflect.Ptr:
		v, err := convert(jv, t.Elem())
		if err != nil {
			return Nil, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(v)
		return ptr, nil

	case reflect.Interface:
		if t.NumMethod() != 0 {
			return Nil, errors.Reason(
				"non-empty interface type %s is not supported", t.Name())
		}
		return reflect.ValueOf(jv), nil

	case reflect.Bool:
		v2, ok := jv.(bool)
		if !ok {
			return Nil, errors.Reason("not a bool value: %v", jv)
		}
		return reflect.ValueOf(v2), nil

	case reflect.Int:
		v2, ok := numeric(jv)
		if !ok {
			return Nil, errors.Reason("not a numeric value: %v", jv)
		}
		return reflect.ValueOf(int(v2)), nil

	case reflect.Float64:
		v2, ok := numeric(jv)
		if !ok {
			return Nil, errors.Reason("not a numeric value: %v", jv)
		}
		return reflect.ValueOf(v2), nil

	case reflect.String:
		v2, ok := jv.(string)
		if !ok {
			return Nil, errors.Reason("not a string value: %v", jv)
		}
		return reflect.ValueOf(v2), nil

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return Nil, errors.Reason(
				"map[%s] is not supported", t.Key().Kind().String())
		}
		v2, ok := jv.(map[string]any)
		if !ok {
			return Nil, errors.Reason("not a map[string] value: %v", jv)
		}
		res := reflect.MakeMap(t)
		for k, v := range v2 {
			el, err := convert(v, t.Elem())
			if err != nil {
				return Nil, err
			}
			res.SetMapIndex(reflect.ValueOf(k), el)
		}
		return res, nil

	case reflect.Slice:
		v2, ok := jv.([]any)
		if !ok {
			return Nil, errors.Reason("not a slice value: %v", jv)
		}
		res := reflect.MakeSlice(t, len(v2), len(v2))
		for i, v := range v2 {
			el, err := convert(v, t.Elem())
			if err != nil {
				return Nil, err
			}
			res.Index(i).Set(el)
		}
		return res, nil

	default:
		return Nil, errors.Reason("unsupported field type: %s", t.Name())
	}
}

// numeric widens any numeric value to float64. Init sees both JSON-decoded
// values (always float64) and caller-built Go maps, which carry native ints.
func numeric(jv any) (float64, bool) {
	switch v := jv.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// fromString converts a string s to the type t; used for `default` tags.
func fromString(s string, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	switch t.Kind() {
	case reflect.Ptr:
		v, err := fromString(s, t.Elem())
		if err != nil {
			return Nil, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(v)
		return ptr, nil
	case reflect.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid bool value: %s", s)
		}
		return reflect.ValueOf(v), nil
	case reflect.Int:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid int value: %s", s)
		}
		return reflect.ValueOf(int(v)), nil
	case reflect.Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid float64 value: %s", s)
		}
		return reflect.ValueOf(v), nil
	case reflect.String:
		return reflect.ValueOf(s), nil
	}
	return Nil, errors.Reason("type %s is not supported", t.Name())
}

// checkSet assigns the value v to the struct field f and verifies it against
// the field's `choices` tag, if any.
func checkSet(f reflect.StructField, fv reflect.Value, v reflect.Value) error {
	if choices, ok := f.Tag.Lookup("choices"); ok {
		if f.Type.Kind() != reflect.String {
			return errors.Reason(
				"choices tag applied to a non-string field: %s", f.Name)
		}
		s, ok := v.Interface().(string)
		if !ok {
			return errors.Reason(
				"value for a string field %s is not a string", f.Name)
		}
		if !StringIn(s, strings.Split(choices, ",")...) {
			return errors.Reason(
				"value for %s is not in its choice list: '%s'", f.Name, s)
		}
	}
	fv.Set(v)
	return nil
}

// jsonFieldName extracts the effective JSON key of a struct field; the empty
// string means the field does not participate in the record.
func jsonFieldName(f reflect.StructField) string {
	firstChar, _ := utf8.DecodeRuneInString(f.Name)
	if !unicode.IsUpper(firstChar) {
		return ""
	}
	name := f.Name
	if tag := f.Tag.Get("json"); tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] == "-" {
			return ""
		}
		if parts[0] != "" {
			name = parts[0]
		}
	}
	return name
}

// Init is the generic implementation for most InitRecord methods. It expects
// r to be a struct pointer and js a map[string]any. Recognized struct tags:
//
//	`json:"field_name" required:"true" default:"value" choices:"one,two"`
//
// The `json:` tag is compatible with the encoding/json package: only
// exported fields are considered, a missing tag is equivalent to
// `json:"FieldName"`, and qualifiers such as `json:",omitempty"` are
// accepted and ignored here. This keeps a Record marshalable back into an
// equivalent JSON value (see Dump). The "choices" tag is supported only for
// string fields.
func Init(r Record, js any) error {
	rt := reflect.TypeOf(r)
	if !(rt.Kind() == reflect.Ptr && rt.Elem().Kind() == reflect.Struct) {
		return errors.Reason(
			"expected a Record instance to be a struct pointer, but got %s",
			rt.Name())
	}
	if js == nil {
		return errors.Reason("JSON value is nil")
	}
	jsMap, ok := js.(map[string]any)
	if !ok {
		return errors.Reason("JSON value is not a map: %v", js)
	}

	rt = rt.Elem() // the underlying struct type
	rv := reflect.ValueOf(r).Elem()
	foundFields := make(map[string]struct{}) // to check for unknown fields
	missingRequired := []string{}
	allowUnknown := false
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.Anonymous && f.Type == rAllowUnknown {
			allowUnknown = true
			continue
		}
		rfv := rv.FieldByName(f.Name)
		jsonName := jsonFieldName(f)
		if jsonName == "" {
			continue
		}
		if jv, ok := jsMap[jsonName]; ok {
			foundFields[jsonName] = struct{}{}
			v, err := convert(jv, f.Type)
			if err != nil {
				return errors.Annotate(err, "error assigning field %s", f.Name)
			}
			if err := checkSet(f, rfv, v); err != nil {
				return err
			}
			continue
		}

		// No value in JSON, figure out what to do.
		if f.Tag.Get("required") == "true" {
			missingRequired = append(missingRequired, jsonName)
			continue
		}
		if defaultVal, ok := f.Tag.Lookup("default"); ok {
			v, err := fromString(defaultVal, f.Type)
			if err != nil {
				return errors.Annotate(
					err, "error setting default value for %s", f.Name)
			}
			if err := checkSet(f, rfv, v); err != nil {
				return err
			}
			continue
		}
		// Not required and no default: set the zero value. It still needs the
		// validity check, e.g. when there is a `choices` tag.
		v, err := convert(nil, f.Type)
		if err != nil {
			return errors.Annotate(err, "error creating zero value for %s", f.Name)
		}
		if err := checkSet(f, rfv, v); err != nil {
			return errors.Annotate(err, "error setting zero value for %s", f.Name)
		}
	}
	if len(missingRequired) != 0 {
		return errors.Reason(
			"missing required fields: %s", strings.Join(missingRequired, ", "))
	}
	if allowUnknown {
		return nil
	}
	extraFields := []string{}
	for k := range jsMap {
		if _, ok := foundFields[k]; ok {
			continue
		}
		extraFields = append(extraFields, k)
	}
	if len(extraFields) != 0 {
		return errors.Reason(
			"unsupported fields for %s: %s",
			rt.Name(), strings.Join(extraFields, ", "))
	}
	return nil
}

// Validate initializes a throw-away Record instance from js, reporting any
// shape violations without keeping the result. It is how the API client
// checks response payloads against an endpoint's response schema.
func Validate(r Record, js any) error {
	return r.InitRecord(js)
}

// Dump normalizes a Record back into a generic map, as the encoding/json
// package would produce it. Combined with Init this applies defaults and
// validation to a raw field set: Init the record from the raw fields, then
// Dump it to obtain the effective request fields. Optional fields that
// should be omitted when empty need the usual `json:",omitempty"` tag.
func Dump(r Record) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Annotate(err, "failed to marshal record %T", r)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Annotate(err, "failed to unmarshal record %T", r)
	}
	return m, nil
}

// StringIn checks that s equals one of the values.
func StringIn(s string, values ...string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}
