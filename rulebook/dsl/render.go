package dsl

import (
	"fmt"
	"strings"

	"github.com/thaingo/dre/rulebook"
)

// Render generates the DSL text for a rulebook and its member rules.
// The rules slice must be in membership order; the output compiles
// back to the same rulebook.
func Render(rb *rulebook.Rulebook, rules []*rulebook.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rulebook %s {\n", rb.ID)
	fmt.Fprintf(&b, "  version %d\n", rb.Version)
	b.WriteString("  meta {\n")
	fmt.Fprintf(&b, "    description %s\n", quote(rb.Description))
	fmt.Fprintf(&b, "    source %s\n", quote(rb.User))
	b.WriteString("  }\n")
	for _, r := range rules {
		b.WriteString("\n")
		writeRule(&b, r, "  ")
	}
	b.WriteString("}\n")
	return b.String()
}

// RenderRule generates the DSL text for a single rule, used when a
// rule is retrieved in its textual form.
func RenderRule(r *rulebook.Rule) string {
	var b strings.Builder
	writeRule(&b, r, "")
	return b.String()
}

func writeRule(b *strings.Builder, r *rulebook.Rule, indent string) {
	fmt.Fprintf(b, "%srule %s {\n", indent, r.ID)
	fmt.Fprintf(b, "%s  description %s\n", indent, quote(r.Description))
	fmt.Fprintf(b, "%s  when(%s) then {\n", indent, r.When)
	fmt.Fprintf(b, "%s    %s\n", indent, r.Then)
	fmt.Fprintf(b, "%s  }\n", indent)
	fmt.Fprintf(b, "%s}\n", indent)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
