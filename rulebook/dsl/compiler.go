// Package dsl compiles the textual rulebook form into rulebook
// entities and renders entities back to text. The two directions
// round-trip: Compile(Render(rb, rules)) reproduces rb and rules.
//
// The grammar:
//
//	rulebook <id> {
//	  version <n>
//	  meta {
//	    description '<text>'
//	    source '<user>'
//	  }
//	  rule <id> {
//	    description '<text>'
//	    when(<condition>) then {
//	      <action>
//	    }
//	  }
//	}
package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/thaingo/dre/rulebook"
)

// Compile parses DSL text into a rulebook entity plus its inline
// rules, in declaration order. Each rule's when clause must parse
// under the expression grammar. All failures are reported as
// validation errors naming the offending line.
func Compile(text string) (*rulebook.Rulebook, []*rulebook.Rule, error) {
	p := &parser{input: text, line: 1}

	if err := p.keyword("rulebook"); err != nil {
		return nil, nil, err
	}
	id, err := p.identifier("rulebook id")
	if err != nil {
		return nil, nil, err
	}
	if err := p.symbol('{'); err != nil {
		return nil, nil, err
	}

	rb := &rulebook.Rulebook{ID: id, Rules: []string{}}
	var rules []*rulebook.Rule

	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.next()
			break
		}

		word, err := p.identifier("section")
		if err != nil {
			return nil, nil, err
		}
		switch word {
		case "version":
			v, err := p.identifier("version number")
			if err != nil {
				return nil, nil, err
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, nil, p.failf("invalid version %q", v)
			}
			rb.Version = n
		case "meta":
			if err := p.parseMeta(rb); err != nil {
				return nil, nil, err
			}
		case "rule":
			r, err := p.parseRule()
			if err != nil {
				return nil, nil, err
			}
			rules = append(rules, r)
			rb.Rules = append(rb.Rules, r.ID)
		default:
			return nil, nil, p.failf("unexpected %q in rulebook body", word)
		}
	}

	p.skipSpace()
	if p.pos < len(p.input) {
		return nil, nil, p.failf("unexpected trailing input")
	}

	for _, r := range rules {
		if err := rulebook.ValidateWhen(r.When); err != nil {
			return nil, nil, rulebook.Invalid("rule '%s': %v", r.ID, err)
		}
	}
	return rb, rules, nil
}

func (p *parser) parseMeta(rb *rulebook.Rulebook) error {
	if err := p.symbol('{'); err != nil {
		return err
	}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.next()
			return nil
		}
		key, err := p.identifier("meta key")
		if err != nil {
			return err
		}
		val, err := p.quoted()
		if err != nil {
			return err
		}
		switch key {
		case "description":
			rb.Description = val
		case "source":
			rb.User = val
		default:
			return p.failf("unknown meta key %q", key)
		}
	}
}

func (p *parser) parseRule() (*rulebook.Rule, error) {
	id, err := p.identifier("rule id")
	if err != nil {
		return nil, err
	}
	if err := p.symbol('{'); err != nil {
		return nil, err
	}

	r := &rulebook.Rule{ID: id}

	p.skipSpace()
	if p.hasKeyword("description") {
		p.identifier("description")
		desc, err := p.quoted()
		if err != nil {
			return nil, err
		}
		r.Description = desc
	}

	if err := p.keyword("when"); err != nil {
		return nil, err
	}
	if err := p.symbol('('); err != nil {
		return nil, err
	}
	cond, err := p.balanced('(', ')')
	if err != nil {
		return nil, err
	}
	r.When = strings.TrimSpace(cond)

	if err := p.keyword("then"); err != nil {
		return nil, err
	}
	if err := p.symbol('{'); err != nil {
		return nil, err
	}
	action, err := p.balanced('{', '}')
	if err != nil {
		return nil, err
	}
	r.Then = strings.TrimSpace(action)

	if err := p.symbol('}'); err != nil {
		return nil, err
	}
	return r, nil
}

// parser is a single-pass scanner over the DSL text.
type parser struct {
	input string
	pos   int
	line  int
}

func (p *parser) failf(format string, args ...any) error {
	return rulebook.Invalid("line %d: %s", p.line, fmt.Sprintf(format, args...))
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) next() byte {
	c := p.peek()
	if c == '\n' {
		p.line++
	}
	p.pos++
	return c
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.next()
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func (p *parser) identifier(what string) (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && isIdentChar(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.failf("expected %s", what)
	}
	return p.input[start:p.pos], nil
}

func (p *parser) keyword(word string) error {
	got, err := p.identifier(fmt.Sprintf("keyword %q", word))
	if err != nil {
		return err
	}
	if got != word {
		return p.failf("expected %q, got %q", word, got)
	}
	return nil
}

// hasKeyword reports whether the next identifier is word, without
// consuming anything.
func (p *parser) hasKeyword(word string) bool {
	save := *p
	got, err := p.identifier(word)
	*p = save
	return err == nil && got == word
}

func (p *parser) symbol(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.failf("expected %q", string(c))
	}
	p.next()
	return nil
}

// quoted reads a single-quoted string. Backslash escapes the quote and
// itself.
func (p *parser) quoted() (string, error) {
	p.skipSpace()
	if p.peek() != '\'' {
		return "", p.failf("expected quoted string")
	}
	p.next()

	var b strings.Builder
	for {
		if p.pos >= len(p.input) {
			return "", p.failf("unterminated string")
		}
		c := p.next()
		switch c {
		case '\'':
			return b.String(), nil
		case '\\':
			if p.pos >= len(p.input) {
				return "", p.failf("unterminated string")
			}
			b.WriteByte(p.next())
		default:
			b.WriteByte(c)
		}
	}
}

// balanced reads up to the close delimiter matching an already
// consumed open delimiter, tracking nesting. Delimiters inside string
// literals do not count. The close delimiter is consumed but not
// returned.
func (p *parser) balanced(open, close byte) (string, error) {
	depth := 1
	start := p.pos
	for p.pos < len(p.input) {
		c := p.next()
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return p.input[start : p.pos-1], nil
			}
		case '\'', '"':
			if err := p.skipString(c); err != nil {
				return "", err
			}
		}
	}
	return "", p.failf("expected %q", string(close))
}

// skipString consumes a string literal whose opening quote was already
// read, honoring backslash escapes.
func (p *parser) skipString(quote byte) error {
	for p.pos < len(p.input) {
		c := p.next()
		switch c {
		case quote:
			return nil
		case '\\':
			if p.pos < len(p.input) {
				p.next()
			}
		}
	}
	return p.failf("unterminated string")
}
