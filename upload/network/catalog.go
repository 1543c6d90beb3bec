package network

import (
	"encoding/json"
	"fmt"
	"strings"
)

type catalogItem struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	ID    ID     `json:"id"`
	Slug  string `json:"slug"`
	Type  string `json:"type"`
}

func (i catalogItem) label() string {
	for _, candidate := range []string{i.Name, i.Title, string(i.ID), i.Slug} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// parseCatalog accepts either a JSON array or an object with an "items" array.
// Items are plain strings or objects naming the entry by name, title, id or slug.
func parseCatalog(data []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapped struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("catalog is neither a list nor an object with items: %w", err)
		}
		if wrapped.Items == nil {
			return nil, fmt.Errorf("catalog object has no items")
		}
		items = wrapped.Items
	}

	entries := make([]string, 0, len(items))
	for _, raw := range items {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			entries = append(entries, s)
			continue
		}

		var item catalogItem
		if err := json.Unmarshal(raw, &item); err != nil {
			entries = append(entries, "")
			continue
		}
		if item.Type != "" {
			entries = append(entries, fmt.Sprintf("%s : %s", item.label(), item.Type))
		} else {
			entries = append(entries, item.label())
		}
	}

	return compact(entries), nil
}

func compact(entries []string) []string {
	result := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e) != "" {
			result = append(result, e)
		}
	}
	return result
}
