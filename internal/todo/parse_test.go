package todo

import "testing"

func TestParseArgsAliases(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want []ItemInput
	}{
		{
			name: "canonical",
			args: map[string]interface{}{
				"title": "Plan",
				"items": []interface{}{
					map[string]interface{}{"label": "a", "status": "running"},
					map[string]interface{}{"label": "b"},
				},
			},
			want: []ItemInput{{Label: "a", Status: "running"}, {Label: "b"}},
		},
		{
			name: "todoList alias with title labels",
			args: map[string]interface{}{
				"todoList": []interface{}{
					map[string]interface{}{"title": "a", "state": "done"},
				},
			},
			want: []ItemInput{{Label: "a", Status: "done"}},
		},
		{
			name: "steps alias with bare strings",
			args: map[string]interface{}{
				"steps": []interface{}{"first", "second"},
			},
			want: []ItemInput{{Label: "first"}, {Label: "second"}},
		},
		{
			name: "description field",
			args: map[string]interface{}{
				"todo_list": []interface{}{
					map[string]interface{}{"description": "do it"},
				},
			},
			want: []ItemInput{{Label: "do it"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, items, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("ParseArgs: %v", err)
			}
			if len(items) != len(tt.want) {
				t.Fatalf("items = %+v, want %+v", items, tt.want)
			}
			for i := range items {
				if items[i] != tt.want[i] {
					t.Errorf("item %d = %+v, want %+v", i, items[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	cases := []map[string]interface{}{
		{"title": "no items"},
		{"items": []interface{}{}},
		{"items": []interface{}{map[string]interface{}{"status": "running"}}},
		{"items": []interface{}{42}},
	}
	for i, args := range cases {
		if _, _, err := ParseArgs(args); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"running":     "running",
		"In_Progress": "running",
		"done":        "completed",
		"COMPLETE":    "completed",
		"pending":     "pending",
		"whatever":    "pending",
		"":            "pending",
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
