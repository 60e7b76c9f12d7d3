package todo

import (
	"fmt"
	"strings"
)

// Key aliases tolerated in LLM tool arguments. Models routinely drift from
// the documented schema, so parsing is lenient rather than strict.
var (
	itemsKeys  = []string{"items", "todoList", "todo_list", "steps"}
	labelKeys  = []string{"label", "title", "name", "text", "description", "content"}
	statusKeys = []string{"status", "state"}
)

// ParseArgs extracts a title and item list from raw tool arguments.
func ParseArgs(args map[string]interface{}) (string, []ItemInput, error) {
	title, _ := args["title"].(string)
	title = strings.TrimSpace(title)

	var rawItems []interface{}
	for _, key := range itemsKeys {
		if v, ok := args[key]; ok {
			if arr, ok := v.([]interface{}); ok {
				rawItems = arr
				break
			}
		}
	}
	if rawItems == nil {
		return "", nil, fmt.Errorf("missing items array (tried %s)", strings.Join(itemsKeys, ", "))
	}

	items := make([]ItemInput, 0, len(rawItems))
	for i, raw := range rawItems {
		switch v := raw.(type) {
		case string:
			// Bare strings are accepted as pending items.
			if s := strings.TrimSpace(v); s != "" {
				items = append(items, ItemInput{Label: s})
			}
		case map[string]interface{}:
			item, err := parseItem(v)
			if err != nil {
				return "", nil, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, item)
		default:
			return "", nil, fmt.Errorf("item %d: unsupported type %T", i, raw)
		}
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("items array is empty")
	}

	return title, items, nil
}

func parseItem(m map[string]interface{}) (ItemInput, error) {
	var item ItemInput
	for _, key := range labelKeys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			item.Label = strings.TrimSpace(s)
			break
		}
	}
	if item.Label == "" {
		return item, fmt.Errorf("no label field (tried %s)", strings.Join(labelKeys, ", "))
	}
	for _, key := range statusKeys {
		if s, ok := m[key].(string); ok {
			item.Status = s
			break
		}
	}
	return item, nil
}

// Summary renders a compact text view of the list for the LLM.
func Summary(title string, items []ItemInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Todo list updated: %s\n", title)
	for i, item := range items {
		status := NormalizeStatus(item.Status)
		marker := "[ ]"
		switch status {
		case "running":
			marker = "[>]"
		case "completed":
			marker = "[x]"
		}
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, marker, item.Label)
	}
	return strings.TrimRight(b.String(), "\n")
}
