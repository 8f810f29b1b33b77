package template

import "testing"

func TestEvalCondition(t *testing.T) {
	vars := map[string]any{
		"debug":   true,
		"release": false,
		"mode":    "fancy",
		"empty":   "",
		"count":   3,
		"ratio":   0.5,
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"debug", true},
		{"release", false},
		{"!release", true},
		{"!debug", false},
		{"mode", true},
		{"empty", false},
		{"count", true},
		{"mode == 'fancy'", true},
		{`mode == "plain"`, false},
		{"mode != 'plain'", true},
		{"count == 3", true},
		{"count != 3", false},
		{"count > 2", true},
		{"count >= 3", true},
		{"count < 3", false},
		{"count <= 2", false},
		{"ratio < 1", true},
		{"'abc' < 'abd'", true},
		{"debug && mode == 'fancy'", true},
		{"debug && release", false},
		{"release || count > 1", true},
		{"release || false", false},
		{"(debug || release) && count == 3", true},
		{"!(debug && release)", true},
		{"debug == true", true},
		{"release == false", true},
		{"true", true},
		{"false", false},
		// Unknown identifiers are absent: falsy, equal only to absent.
		{"missing", false},
		{"!missing", true},
		{"missing == null", true},
		{"missing == false", false},
		{"missing == ''", false},
		{"missing != mode", true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := evalCondition(tc.expr, vars)
			if err != nil {
				t.Fatalf("evalCondition(%q) failed: %v", tc.expr, err)
			}
			if got != tc.want {
				t.Errorf("evalCondition(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvalCondition_Errors(t *testing.T) {
	vars := map[string]any{"mode": "fancy", "count": 3}

	cases := []string{
		"",
		"mode ==",
		"== mode",
		"mode = 'fancy'",
		"mode & count",
		"mode | count",
		"(mode == 'fancy'",
		"'unterminated",
		"mode < 3",        // string vs number ordering
		"missing < 1",     // absent operand in ordering
		"debug && (",      // unclosed group
		"count == 3 mode", // trailing token
		"#",
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			if _, err := evalCondition(expr, vars); err == nil {
				t.Errorf("evalCondition(%q) succeeded, expected an error", expr)
			}
		})
	}
}

func TestEvalCondition_UnsupportedVarType(t *testing.T) {
	if _, err := evalCondition("v", map[string]any{"v": []int{1}}); err == nil {
		t.Error("expected an error for a slice-valued condition variable")
	}
}
