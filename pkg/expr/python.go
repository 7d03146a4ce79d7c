package expr

import "strings"

// Test lists written for the Python harness use Python operators. Before
// parsing, lowerPython rewrites them onto the ECMAScript forms the
// evaluator understands, following Python precedence:
//
//	a if c else b  ->  (c) ? (a) : (b)
//	a or b         ->  (a) || (b)
//	a and b        ->  (a) && (b)
//	not a          ->  !(a)
//	a not in b     ->  !((a) in (b))
//	a is not b     ->  a != b
//	a is b         ->  a == b
//
// Sources without these keywords are returned unchanged.

type tokKind int

const (
	tokSpace tokKind = iota
	tokString
	tokWord
	tokOpen
	tokClose
	tokOther
)

type tok struct {
	kind tokKind
	text string
}

var pythonKeywords = map[string]bool{
	"and":  true,
	"or":   true,
	"not":  true,
	"if":   true,
	"else": true,
	"is":   true,
}

func lowerPython(src string) string {
	toks, ok := lex(src)
	if !ok {
		return src
	}
	found := false
	for i := range toks {
		if keywordAt(toks, i) != "" {
			found = true
			break
		}
	}
	if !found {
		return src
	}
	return rewriteExpr(toks)
}

func lex(src string) ([]tok, bool) {
	var toks []tok
	for i := 0; i < len(src); {
		c := src[i]
		start := i
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			for i < len(src) && strings.IndexByte(" \t\n\r", src[i]) >= 0 {
				i++
			}
			toks = append(toks, tok{tokSpace, src[start:i]})
		case c == '"' || c == '\'' || c == '`':
			i++
			for i < len(src) && src[i] != c {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			if i >= len(src) {
				return nil, false
			}
			i++
			toks = append(toks, tok{tokString, src[start:i]})
		case isWordStart(c):
			for i < len(src) && (isWordStart(src[i]) || (src[i] >= '0' && src[i] <= '9')) {
				i++
			}
			toks = append(toks, tok{tokWord, src[start:i]})
		case c >= '0' && c <= '9':
			// numbers, including 1.5, 1e3 and 0x1f
			for i < len(src) && (isWordStart(src[i]) || (src[i] >= '0' && src[i] <= '9') || src[i] == '.') {
				i++
			}
			toks = append(toks, tok{tokOther, src[start:i]})
		case c == '(' || c == '[' || c == '{':
			i++
			toks = append(toks, tok{tokOpen, src[start:i]})
		case c == ')' || c == ']' || c == '}':
			i++
			toks = append(toks, tok{tokClose, src[start:i]})
		default:
			i++
			toks = append(toks, tok{tokOther, src[start:i]})
		}
	}
	return toks, true
}

func isWordStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// keywordAt returns the Python keyword at toks[i], or "". Attribute names
// such as device.is are not keywords.
func keywordAt(toks []tok, i int) string {
	if toks[i].kind != tokWord || !pythonKeywords[toks[i].text] {
		return ""
	}
	if p := prevSolid(toks, i); p >= 0 && toks[p].text == "." {
		return ""
	}
	return toks[i].text
}

func prevSolid(toks []tok, i int) int {
	for i--; i >= 0; i-- {
		if toks[i].kind != tokSpace {
			return i
		}
	}
	return -1
}

func nextSolid(toks []tok, i int) int {
	for i++; i < len(toks); i++ {
		if toks[i].kind != tokSpace {
			return i
		}
	}
	return -1
}

func trim(toks []tok) []tok {
	for len(toks) > 0 && toks[0].kind == tokSpace {
		toks = toks[1:]
	}
	for len(toks) > 0 && toks[len(toks)-1].kind == tokSpace {
		toks = toks[:len(toks)-1]
	}
	return toks
}

// closing returns the index of the bracket closing toks[open], or -1.
func closing(toks []tok, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch toks[i].kind {
		case tokOpen:
			depth++
		case tokClose:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop splits toks at every top-level token for which at reports true.
func splitTop(toks []tok, at func(i int) bool) [][]tok {
	var parts [][]tok
	depth, last := 0, 0
	for i, t := range toks {
		switch t.kind {
		case tokOpen:
			depth++
		case tokClose:
			depth--
		default:
			if depth == 0 && at(i) {
				parts = append(parts, toks[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, toks[last:])
}

func rewriteExpr(toks []tok) string {
	toks = trim(toks)
	depth, ifAt, nested := 0, -1, 0
	for i, t := range toks {
		switch t.kind {
		case tokOpen:
			depth++
			continue
		case tokClose:
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		switch keywordAt(toks, i) {
		case "if":
			if ifAt < 0 {
				ifAt = i
			} else {
				nested++
			}
		case "else":
			if ifAt < 0 {
				continue
			}
			if nested > 0 {
				nested--
				continue
			}
			body, cond, orElse := toks[:ifAt], toks[ifAt+1:i], toks[i+1:]
			return "(" + rewriteOr(cond) + ") ? (" + rewriteOr(body) + ") : (" + rewriteExpr(orElse) + ")"
		}
	}
	return rewriteOr(toks)
}

func rewriteOr(toks []tok) string {
	return rewriteBool(toks, "or", "||", rewriteAnd)
}

func rewriteAnd(toks []tok) string {
	return rewriteBool(toks, "and", "&&", rewriteNot)
}

func rewriteBool(toks []tok, kw, op string, next func([]tok) string) string {
	parts := splitTop(toks, func(i int) bool { return keywordAt(toks, i) == kw })
	if len(parts) == 1 {
		return next(parts[0])
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = "(" + next(p) + ")"
	}
	return strings.Join(out, " "+op+" ")
}

func rewriteNot(toks []tok) string {
	toks = trim(toks)
	if len(toks) > 0 && keywordAt(toks, 0) == "not" {
		return "!(" + rewriteNot(toks[1:]) + ")"
	}
	return rewriteCompare(toks)
}

func rewriteCompare(toks []tok) string {
	depth := 0
	for i, t := range toks {
		switch t.kind {
		case tokOpen:
			depth++
		case tokClose:
			depth--
		}
		if depth != 0 || keywordAt(toks, i) != "not" {
			continue
		}
		if j := nextSolid(toks, i); j >= 0 && toks[j].kind == tokWord && toks[j].text == "in" {
			return "!((" + emit(trim(toks[:i])) + ") in (" + emit(trim(toks[j+1:])) + "))"
		}
	}
	return emit(toks)
}

// emit writes toks back as source, lowering is / is not and rewriting
// every bracketed group.
func emit(toks []tok) string {
	var b strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.kind == tokOpen:
			end := closing(toks, i)
			if end < 0 {
				for _, rest := range toks[i:] {
					b.WriteString(rest.text)
				}
				return b.String()
			}
			b.WriteString(t.text)
			b.WriteString(rewriteGroup(toks[i+1:end], t.text))
			b.WriteString(toks[end].text)
			i = end
		case keywordAt(toks, i) == "is":
			if j := nextSolid(toks, i); j >= 0 && keywordAt(toks, j) == "not" {
				b.WriteString("!=")
				i = j
			} else {
				b.WriteString("==")
			}
		default:
			b.WriteString(t.text)
		}
	}
	return b.String()
}

// rewriteGroup rewrites each comma separated element of a bracket group.
// Object literal values are rewritten, keys are kept.
func rewriteGroup(inner []tok, open string) string {
	parts := splitTop(inner, func(i int) bool { return inner[i].text == "," })
	out := make([]string, len(parts))
	for i, p := range parts {
		if open != "{" {
			out[i] = rewriteExpr(p)
			continue
		}
		kv := splitTop(p, func(j int) bool { return p[j].text == ":" })
		if len(kv) != 2 {
			out[i] = emit(p)
			continue
		}
		out[i] = emit(kv[0]) + ":" + rewriteExpr(kv[1])
	}
	return strings.Join(out, ", ")
}
