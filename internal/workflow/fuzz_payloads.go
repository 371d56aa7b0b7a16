package workflow

// PayloadCategory names one family of fuzz payloads, grounded on
// original_source/src/fuzz/payloads.rs's PayloadCategory enum.
type PayloadCategory string

const (
	CategorySQLInjection     PayloadCategory = "sql_injection"
	CategoryXSS              PayloadCategory = "xss"
	CategoryCommandInjection PayloadCategory = "command_injection"
	CategoryPathTraversal    PayloadCategory = "path_traversal"
	CategoryBoundary         PayloadCategory = "boundary"
	CategoryTypeConfusion    PayloadCategory = "type_confusion"
	CategoryFormatString     PayloadCategory = "format_string"
	CategoryIntegerOverflow  PayloadCategory = "integer_overflow"
	CategoryUnicode          PayloadCategory = "unicode"
	CategoryNoSQLInjection   PayloadCategory = "nosql_injection"
)

// AllCategories lists every built-in category, used when a fuzz step
// declares no explicit categories filter.
func AllCategories() []PayloadCategory {
	return []PayloadCategory{
		CategorySQLInjection, CategoryXSS, CategoryCommandInjection, CategoryPathTraversal,
		CategoryBoundary, CategoryTypeConfusion, CategoryFormatString, CategoryIntegerOverflow,
		CategoryUnicode, CategoryNoSQLInjection,
	}
}

// FuzzPayload is one mutation value with metadata, mirroring the original's
// FuzzPayload{value, category, description, risk_level}.
type FuzzPayload struct {
	Value       string
	Category    PayloadCategory
	Description string
	RiskLevel   int // 1 (low) .. 5 (most dangerous)
}

var fuzzPayloadTable = map[PayloadCategory][]FuzzPayload{
	CategorySQLInjection: {
		{Value: `' OR '1'='1`, Category: CategorySQLInjection, Description: "classic tautology", RiskLevel: 4},
		{Value: `'; DROP TABLE users; --`, Category: CategorySQLInjection, Description: "stacked query", RiskLevel: 5},
		{Value: `1 UNION SELECT NULL--`, Category: CategorySQLInjection, Description: "union-based probe", RiskLevel: 4},
	},
	CategoryXSS: {
		{Value: `<script>alert(1)</script>`, Category: CategoryXSS, Description: "reflected script tag", RiskLevel: 3},
		{Value: `"><img src=x onerror=alert(1)>`, Category: CategoryXSS, Description: "attribute breakout", RiskLevel: 3},
	},
	CategoryCommandInjection: {
		{Value: "; cat /etc/passwd", Category: CategoryCommandInjection, Description: "shell chaining", RiskLevel: 5},
		{Value: "$(whoami)", Category: CategoryCommandInjection, Description: "command substitution", RiskLevel: 5},
	},
	CategoryPathTraversal: {
		{Value: "../../../../etc/passwd", Category: CategoryPathTraversal, Description: "relative traversal", RiskLevel: 4},
		{Value: "..%2f..%2f..%2fetc%2fpasswd", Category: CategoryPathTraversal, Description: "encoded traversal", RiskLevel: 4},
	},
	CategoryBoundary: {
		{Value: "", Category: CategoryBoundary, Description: "empty value", RiskLevel: 1},
		{Value: stringOfLength(10_000), Category: CategoryBoundary, Description: "very long string", RiskLevel: 2},
	},
	CategoryTypeConfusion: {
		{Value: "null", Category: CategoryTypeConfusion, Description: "literal null", RiskLevel: 2},
		{Value: "NaN", Category: CategoryTypeConfusion, Description: "non-numeric number", RiskLevel: 2},
	},
	CategoryFormatString: {
		{Value: "%s%s%s%s%s", Category: CategoryFormatString, Description: "format specifier chain", RiskLevel: 3},
		{Value: "%n", Category: CategoryFormatString, Description: "write-to-memory specifier", RiskLevel: 4},
	},
	CategoryIntegerOverflow: {
		{Value: "9223372036854775808", Category: CategoryIntegerOverflow, Description: "int64 overflow", RiskLevel: 2},
		{Value: "-9223372036854775809", Category: CategoryIntegerOverflow, Description: "int64 underflow", RiskLevel: 2},
	},
	CategoryUnicode: {
		{Value: "‮test", Category: CategoryUnicode, Description: "right-to-left override", RiskLevel: 2},
		{Value: "﻿", Category: CategoryUnicode, Description: "byte order mark", RiskLevel: 1},
	},
	CategoryNoSQLInjection: {
		{Value: `{"$ne": null}`, Category: CategoryNoSQLInjection, Description: "operator injection", RiskLevel: 4},
		{Value: `{"$gt": ""}`, Category: CategoryNoSQLInjection, Description: "comparison bypass", RiskLevel: 3},
	},
}

func stringOfLength(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'A'
	}
	return string(b)
}

// PayloadsFor selects payloads whose category is in categories (all
// categories when empty) and whose risk level meets the requested minimum,
// per the risk_level/categories filters in §4.4's fuzz contract.
func PayloadsFor(categories []PayloadCategory, minRisk int) []FuzzPayload {
	if len(categories) == 0 {
		categories = AllCategories()
	}
	var out []FuzzPayload
	for _, c := range categories {
		for _, p := range fuzzPayloadTable[c] {
			if p.RiskLevel >= minRisk {
				out = append(out, p)
			}
		}
	}
	return out
}

// riskLevelFor maps the "risk_level" step config string to a numeric floor.
func riskLevelFor(s string) int {
	switch s {
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	case "critical":
		return 4
	default:
		return 1
	}
}
