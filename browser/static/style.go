package static

import (
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const rootFontSizePx = 16.0

// uaStylesheet is the subset of the browser default stylesheet that affects
// the properties the static driver reports.
const uaStylesheet = `
html, body, div, section, article, aside, header, footer, nav, main, p, ul, ol, li,
h1, h2, h3, h4, h5, h6, form, fieldset, table, figure, blockquote, pre, hr, address { display: block; }
head, title, meta, link, style, script, template, noscript, [hidden] { display: none; }
h1 { font-size: 2em; font-weight: bold; }
h2 { font-size: 1.5em; font-weight: bold; }
h3 { font-size: 1.17em; font-weight: bold; }
h4 { font-weight: bold; }
h5 { font-size: 0.83em; font-weight: bold; }
h6 { font-size: 0.67em; font-weight: bold; }
b, strong { font-weight: bold; }
`

var inheritedProperties = map[string]bool{
	"color":           true,
	"cursor":          true,
	"direction":       true,
	"font-family":     true,
	"font-size":       true,
	"font-style":      true,
	"font-weight":     true,
	"letter-spacing":  true,
	"line-height":     true,
	"list-style-type": true,
	"text-align":      true,
	"text-transform":  true,
	"visibility":      true,
	"white-space":     true,
	"word-spacing":    true,
}

var initialValues = map[string]string{
	"background-color": "rgba(0, 0, 0, 0)",
	"background-image": "none",
	"color":            "rgb(0, 0, 0)",
	"display":          "inline",
	"font-size":        "16px",
	"font-style":       "normal",
	"font-weight":      "400",
	"opacity":          "1",
	"position":         "static",
	"text-align":       "start",
	"visibility":       "visible",
}

var fontWeightKeywords = map[string]string{
	"normal": "400",
	"bold":   "700",
}

type declaration struct {
	property  string
	value     string
	important bool
}

type origin int

const (
	originUserAgent origin = iota
	originAuthor
)

type styleRule struct {
	selectors []cascadia.Sel
	decls     []declaration
	origin    origin
	order     int
}

// stylesheet is the ordered set of rules that apply to one document.
type stylesheet struct {
	rules []styleRule
	next  int
}

func newStylesheet() *stylesheet {
	s := &stylesheet{}
	s.add(uaStylesheet, originUserAgent)
	return s
}

// add parses css and appends its rules. Rules inside at-rule blocks
// (@media, @supports, @keyframes, ...) are skipped, as are selectors with
// dynamic pseudo-classes the static document can never match.
func (s *stylesheet) add(css string, o origin) {
	css = stripComments(css)
	for len(css) > 0 {
		css = strings.TrimLeft(css, " \t\r\n")
		if css == "" {
			return
		}
		if css[0] == '@' {
			css = skipAtRule(css)
			continue
		}
		open := strings.IndexByte(css, '{')
		if open < 0 {
			return
		}
		closeIdx := matchingBrace(css, open)
		if closeIdx < 0 {
			return
		}
		prelude := strings.TrimSpace(css[:open])
		body := css[open+1 : closeIdx]
		css = css[closeIdx+1:]

		var sels []cascadia.Sel
		for _, raw := range splitTopLevel(prelude, ',') {
			sel, err := cascadia.Parse(strings.TrimSpace(raw))
			if err != nil || sel.PseudoElement() != "" {
				continue
			}
			sels = append(sels, sel)
		}
		if len(sels) == 0 {
			continue
		}
		s.rules = append(s.rules, styleRule{
			selectors: sels,
			decls:     parseDeclarations(body),
			origin:    o,
			order:     s.next,
		})
		s.next++
	}
}

type candidate struct {
	decl        declaration
	origin      origin
	inline      bool
	specificity cascadia.Specificity
	order       int
}

func (c candidate) less(o candidate) bool {
	if c.decl.important != o.decl.important {
		return !c.decl.important
	}
	if c.origin != o.origin {
		return c.origin < o.origin
	}
	if c.inline != o.inline {
		return !c.inline
	}
	if c.specificity != o.specificity {
		return c.specificity.Less(o.specificity)
	}
	return c.order < o.order
}

// declared returns the cascaded value of property on n, if any rule sets it.
func (s *stylesheet) declared(n *html.Node, property string) (string, bool) {
	var cands []candidate
	for _, r := range s.rules {
		var best *cascadia.Specificity
		for _, sel := range r.selectors {
			if sel.Match(n) {
				sp := sel.Specificity()
				if best == nil || best.Less(sp) {
					best = &sp
				}
			}
		}
		if best == nil {
			continue
		}
		for _, d := range r.decls {
			if d.property == property {
				cands = append(cands, candidate{decl: d, origin: r.origin, specificity: *best, order: r.order})
			}
		}
	}
	for _, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		for _, d := range parseDeclarations(a.Val) {
			if d.property == property {
				cands = append(cands, candidate{decl: d, origin: originAuthor, inline: true, order: s.next})
			}
		}
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].less(cands[j]) })
	return cands[len(cands)-1].decl.value, true
}

// computed resolves the computed value of property on n: cascade, then
// inheritance, then the initial value, with lengths resolved to px.
func (s *stylesheet) computed(n *html.Node, property string) string {
	property = strings.ToLower(strings.TrimSpace(property))
	if n == nil || n.Type != html.ElementNode {
		return initialValues[property]
	}
	value, ok := s.declared(n, property)
	if ok && value == "initial" {
		return s.finish(n, property, initialValues[property])
	}
	if (!ok && inheritedProperties[property]) || value == "inherit" {
		if parent := parentElement(n); parent != nil {
			return s.computed(parent, property)
		}
		return initialValues[property]
	}
	if !ok {
		return s.finish(n, property, initialValues[property])
	}
	return s.finish(n, property, value)
}

func (s *stylesheet) finish(n *html.Node, property, value string) string {
	switch property {
	case "font-size":
		return formatPx(s.fontSizePx(n, value))
	case "font-weight":
		if kw, ok := fontWeightKeywords[value]; ok {
			return kw
		}
		return value
	}
	if strings.Contains(value, "rem") || strings.Contains(value, "em") {
		return resolveLengths(value, s.fontSizePx(n, ""))
	}
	return value
}

// fontSizePx resolves the font size of n in px. value overrides the cascaded
// value when non-empty.
func (s *stylesheet) fontSizePx(n *html.Node, value string) float64 {
	if value == "" {
		v, ok := s.declared(n, "font-size")
		if ok && v != "inherit" {
			value = v
		}
	}
	parentPx := rootFontSizePx
	if parent := parentElement(n); parent != nil {
		parentPx = s.fontSizePx(parent, "")
	}
	if value == "" || value == "inherit" {
		return parentPx
	}
	num, unit := splitLength(value)
	switch unit {
	case "px":
		return num
	case "rem":
		return num * rootFontSizePx
	case "em":
		return num * parentPx
	case "%":
		return num * parentPx / 100
	case "pt":
		return num * 4 / 3
	}
	switch value {
	case "small":
		return 13
	case "medium":
		return 16
	case "large":
		return 18
	case "x-large":
		return 24
	case "xx-large":
		return 32
	}
	return parentPx
}

// resolveLengths rewrites rem and em lengths inside a value to px.
func resolveLengths(value string, fontPx float64) string {
	tokens := strings.Fields(value)
	for i, tok := range tokens {
		trail := ""
		if strings.HasSuffix(tok, ",") {
			tok, trail = strings.TrimSuffix(tok, ","), ","
		}
		num, unit := splitLength(tok)
		switch unit {
		case "rem":
			tokens[i] = formatPx(num*rootFontSizePx) + trail
		case "em":
			tokens[i] = formatPx(num*fontPx) + trail
		}
	}
	return strings.Join(tokens, " ")
}

func splitLength(v string) (float64, string) {
	v = strings.TrimSpace(v)
	i := 0
	for i < len(v) && (v[i] == '-' || v[i] == '+' || v[i] == '.' || (v[i] >= '0' && v[i] <= '9')) {
		i++
	}
	if i == 0 {
		return 0, ""
	}
	num, err := strconv.ParseFloat(v[:i], 64)
	if err != nil {
		return 0, ""
	}
	return num, v[i:]
}

func formatPx(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

func parentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// parseDeclarations parses a declaration block, expanding the shorthands the
// driver understands.
func parseDeclarations(body string) []declaration {
	var out []declaration
	for _, raw := range splitTopLevel(body, ';') {
		colon := strings.IndexByte(raw, ':')
		if colon < 0 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(raw[:colon]))
		value := strings.TrimSpace(raw[colon+1:])
		important := false
		if idx := strings.Index(strings.ToLower(value), "!important"); idx >= 0 {
			important = true
			value = strings.TrimSpace(value[:idx])
		}
		if prop == "" || value == "" {
			continue
		}
		out = append(out, declaration{property: prop, value: value, important: important})
		if prop == "background" {
			out = append(out, declaration{property: "background-image", value: backgroundImage(value), important: important})
		}
	}
	return out
}

// backgroundImage extracts the image layers of a background shorthand.
func backgroundImage(value string) string {
	var images []string
	for _, layer := range splitTopLevel(value, ',') {
		for _, fn := range functionCalls(layer) {
			if strings.HasSuffix(fn.name, "gradient") || fn.name == "url" {
				images = append(images, fn.text)
			}
		}
	}
	if len(images) == 0 {
		return "none"
	}
	return strings.Join(images, ", ")
}

type functionCall struct {
	name string
	text string
}

func functionCalls(s string) []functionCall {
	var out []functionCall
	for i := 0; i < len(s); i++ {
		if s[i] != '(' {
			continue
		}
		start := i
		for start > 0 && isIdentByte(s[start-1]) {
			start--
		}
		end := matchingParen(s, i)
		if end < 0 {
			return out
		}
		out = append(out, functionCall{name: strings.ToLower(s[start:i]), text: s[start : end+1]})
		i = end
	}
	return out
}

func isIdentByte(b byte) bool {
	return b == '-' || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func matchingBrace(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits s on sep outside of parentheses, brackets and quotes.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(s[start:]) != "" {
		parts = append(parts, s[start:])
	}
	return parts
}

func skipAtRule(css string) string {
	semi := strings.IndexByte(css, ';')
	open := strings.IndexByte(css, '{')
	if open < 0 || (semi >= 0 && semi < open) {
		if semi < 0 {
			return ""
		}
		return css[semi+1:]
	}
	end := matchingBrace(css, open)
	if end < 0 {
		return ""
	}
	return css[end+1:]
}

func stripComments(css string) string {
	var b strings.Builder
	for {
		start := strings.Index(css, "/*")
		if start < 0 {
			b.WriteString(css)
			return b.String()
		}
		b.WriteString(css[:start])
		end := strings.Index(css[start+2:], "*/")
		if end < 0 {
			return b.String()
		}
		css = css[start+2+end+2:]
	}
}
