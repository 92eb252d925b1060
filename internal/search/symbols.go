package search

import (
	"regexp"
	"strings"
)

// symbolQuery assembles the declaration disjunction for a symbol. The
// patterns are language-neutral and intentionally broad; the method
// alternative also matches plain call sites.
func symbolQuery(symbol string) string {
	name := regexp.QuoteMeta(symbol)
	alternatives := []string{
		`(?:function|func|fn|def)\s+` + name + `\s*\(`,
		`(?:\.|->|::)` + name + `\s*\(`,
		`class\s+` + name + `\b`,
		`(?:type|interface|enum)\s+` + name + `\b`,
		`struct\s+` + name + `\b`,
		`const\s+` + name + `\b`,
		`(?:var|let)\s+` + name + `\b`,
	}
	return strings.Join(alternatives, "|")
}

// symbolPattern classifies one declaration form. The regular expressions
// reuse the exact alternatives of symbolQuery with a capture on the name.
type symbolPattern struct {
	kind string
	re   *regexp.Regexp
}

// symbolTable builds the ordered classification table for a symbol. First
// match wins; the order puts real declarations ahead of the method form so
// a `func` line never classifies as a call.
func symbolTable(symbol string) []symbolPattern {
	name := regexp.QuoteMeta(symbol)
	return []symbolPattern{
		{"function", regexp.MustCompile(`(?i)(?:function|func|fn|def)\s+(` + name + `)\s*\(`)},
		{"class", regexp.MustCompile(`(?i)class\s+(` + name + `)\b`)},
		{"type", regexp.MustCompile(`(?i)(?:type|interface|enum)\s+(` + name + `)\b`)},
		{"struct", regexp.MustCompile(`(?i)struct\s+(` + name + `)\b`)},
		{"constant", regexp.MustCompile(`(?i)const\s+(` + name + `)\b`)},
		{"variable", regexp.MustCompile(`(?i)(?:var|let)\s+(` + name + `)\b`)},
		{"method", regexp.MustCompile(`(?i)(?:\.|->|::)(` + name + `)\s*\(`)},
	}
}

// classifySymbol tags a matched line with its declaration form. Lines the
// table cannot place are references, typically call sites caught by the
// broad method alternative.
func classifySymbol(line, symbol string, table []symbolPattern) (string, string) {
	for _, pat := range table {
		if m := pat.re.FindStringSubmatch(line); m != nil {
			return pat.kind, m[1]
		}
	}
	return "reference", symbol
}
