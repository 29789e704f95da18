package anchor

import (
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/gorilla/css/scanner"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Only these properties decide visibility; everything else is dropped while parsing.
var visibilityProps = map[string]struct{}{
	"display":    {},
	"visibility": {},
	"opacity":    {},
}

type declaration struct {
	name  string
	value string
}

type styleRule struct {
	selector cascadia.SelectorGroup
	decls    []declaration
	order    int
}

// styleResolver approximates computed style for the visibility properties.
// Layers, lowest first: user-agent defaults, author <style> sheets ordered by
// specificity then source order, inline style attribute.
type styleResolver struct {
	rules []styleRule
	memo  map[*html.Node]bool
}

func newStyleResolver(doc *html.Node) *styleResolver {
	r := &styleResolver{memo: make(map[*html.Node]bool)}
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			if media, ok := attr(n, "media"); ok && !screenMedia(media) {
				return
			}
			for _, rule := range parseStyleSheet(TextContent(n)) {
				rule.order = len(r.rules)
				r.rules = append(r.rules, rule)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return r
}

func screenMedia(media string) bool {
	m := strings.ToLower(strings.TrimSpace(media))
	return m == "" || strings.Contains(m, "all") || strings.Contains(m, "screen")
}

// hidden reports whether el itself resolves to display:none,
// visibility:hidden or zero opacity.
func (r *styleResolver) hidden(el *html.Node) bool {
	if v, ok := r.memo[el]; ok {
		return v
	}
	h := isHiddenStyle(r.computed(el))
	r.memo[el] = h
	return h
}

type ruleMatch struct {
	specificity cascadia.Specificity
	rule        *styleRule
}

func (r *styleResolver) computed(el *html.Node) map[string]string {
	props := make(map[string]string, len(visibilityProps))
	userAgentDefaults(el, props)

	var matched []ruleMatch
	for i := range r.rules {
		rule := &r.rules[i]
		var best cascadia.Specificity
		found := false
		for _, sel := range rule.selector {
			if sel.PseudoElement() != "" || !sel.Match(el) {
				continue
			}
			if sp := sel.Specificity(); !found || best.Less(sp) {
				best = sp
			}
			found = true
		}
		if found {
			matched = append(matched, ruleMatch{specificity: best, rule: rule})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].specificity.Less(matched[j].specificity)
	})
	for _, m := range matched {
		for _, d := range m.rule.decls {
			props[d.name] = d.value
		}
	}

	if inline, ok := attr(el, "style"); ok {
		for _, d := range parseDeclarations(inline) {
			props[d.name] = d.value
		}
	}
	return props
}

func userAgentDefaults(el *html.Node, props map[string]string) {
	switch el.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Template, atom.Noscript,
		atom.Title, atom.Meta, atom.Link, atom.Base:
		props["display"] = "none"
		return
	}
	if _, ok := attr(el, "hidden"); ok {
		props["display"] = "none"
	}
}

func isHiddenStyle(props map[string]string) bool {
	if props["display"] == "none" || props["visibility"] == "hidden" {
		return true
	}
	if v, ok := props["opacity"]; ok {
		return zeroOpacity(v)
	}
	return false
}

func zeroOpacity(v string) bool {
	v = strings.TrimSuffix(v, "%")
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && f == 0
}

// parseStyleSheet extracts qualified rules. At-rules (@media, @font-face, ...)
// are skipped entirely, as are rules whose selector cascadia rejects.
func parseStyleSheet(src string) []styleRule {
	s := scanner.New(src)
	var rules []styleRule
	var prelude strings.Builder
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			return rules
		case scanner.TokenComment, scanner.TokenCDO, scanner.TokenCDC, scanner.TokenBOM:
			continue
		case scanner.TokenAtKeyword:
			skipAtRule(s)
			prelude.Reset()
			continue
		case scanner.TokenChar:
			if tok.Value == "{" {
				body := readBlock(s)
				sel, err := cascadia.ParseGroup(strings.TrimSpace(prelude.String()))
				prelude.Reset()
				if err != nil {
					continue
				}
				if decls := parseDeclarations(body); len(decls) > 0 {
					rules = append(rules, styleRule{selector: sel, decls: decls})
				}
				continue
			}
		}
		prelude.WriteString(tok.Value)
	}
}

// readBlock consumes tokens up to the '}' matching an already consumed '{'
// and returns the raw text in between.
func readBlock(s *scanner.Scanner) string {
	var sb strings.Builder
	depth := 0
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			return sb.String()
		case scanner.TokenComment:
			continue
		case scanner.TokenChar:
			switch tok.Value {
			case "{":
				depth++
			case "}":
				if depth == 0 {
					return sb.String()
				}
				depth--
			}
		}
		sb.WriteString(tok.Value)
	}
}

func skipAtRule(s *scanner.Scanner) {
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			return
		case scanner.TokenChar:
			switch tok.Value {
			case ";":
				return
			case "{":
				readBlock(s)
				return
			}
		}
	}
}

// parseDeclarations parses "name: value; ..." keeping visibility properties only.
// Names and values are lower-cased; !important is dropped.
func parseDeclarations(src string) []declaration {
	s := scanner.New(src)
	var (
		out     []declaration
		name    string
		value   strings.Builder
		inValue bool
		depth   int
	)
	commit := func() {
		if inValue {
			n := strings.ToLower(strings.TrimSpace(name))
			if _, ok := visibilityProps[n]; ok {
				v := strings.ToLower(strings.TrimSpace(value.String()))
				v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))
				out = append(out, declaration{name: n, value: v})
			}
		}
		name, inValue, depth = "", false, 0
		value.Reset()
	}
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			commit()
			return out
		case scanner.TokenComment:
			continue
		case scanner.TokenFunction:
			depth++
		case scanner.TokenChar:
			switch tok.Value {
			case ":":
				if !inValue {
					inValue = true
					continue
				}
			case ";":
				if depth == 0 {
					commit()
					continue
				}
			case "(", "[":
				depth++
			case ")", "]":
				if depth > 0 {
					depth--
				}
			}
		}
		if inValue {
			value.WriteString(tok.Value)
		} else if tok.Type == scanner.TokenIdent {
			name = tok.Value
		}
	}
}
