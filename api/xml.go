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

package api

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/stockparfait/errors"
)

// XMLField describes how to pull one column value out of an item node of an
// XML payload. Either Path selects a single node whose text is the value, or
// Each selects repeated nodes (optionally under a container node) whose
// texts are collected and, when Join is set, concatenated into one string.
type XMLField struct {
	Path  string // etree path to a single node, relative to the item node
	Each  string // etree path to repeated nodes (multi-value mode)
	Under string // optional container path for Each
	Join  string // separator joining multi-value texts into one string
}

// XMLItems creates an extractor for payloads decoded by SOAPCodec: itemsPath
// selects the item nodes from the response root, and fields maps column
// names to per-item value paths. Missing nodes yield empty strings, so a
// row always has every configured column.
func XMLItems(itemsPath string, fields map[string]XMLField) ExtractFunc {
	return func(payload any) ([]any, error) {
		root, ok := payload.(*etree.Element)
		if !ok {
			return nil, errors.Reason(
				"XML extractor expects an element tree payload, got %T", payload)
		}
		items := root.FindElements(itemsPath)
		rows := make([]any, len(items))
		for i, item := range items {
			row := make(map[string]any, len(fields))
			for name, f := range fields {
				v, err := f.extract(item)
				if err != nil {
					return nil, errors.Annotate(err, "failed to extract field '%s'", name)
				}
				row[name] = v
			}
			rows[i] = row
		}
		return rows, nil
	}
}

func (f XMLField) extract(item *etree.Element) (any, error) {
	if f.Each == "" {
		if f.Path == "" {
			return "", errors.Reason("either Path or Each must be set")
		}
		node := item.FindElement(f.Path)
		if node == nil {
			return "", nil
		}
		return strings.TrimSpace(node.Text()), nil
	}
	parent := item
	if f.Under != "" {
		if p := item.FindElement(f.Under); p != nil {
			parent = p
		}
	}
	texts := []string{}
	for _, node := range parent.FindElements(f.Each) {
		if t := strings.TrimSpace(node.Text()); t != "" {
			texts = append(texts, t)
		}
	}
	if f.Join != "" {
		return strings.Join(texts, f.Join), nil
	}
	return texts, nil
}

// XMLText returns the trimmed text of the first node matching path under
// root, or the empty string. A convenience for single-value responses.
func XMLText(root *etree.Element, path string) string {
	if node := root.FindElement(path); node != nil {
		return strings.TrimSpace(node.Text())
	}
	return ""
}
