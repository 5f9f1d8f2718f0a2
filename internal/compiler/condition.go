package compiler

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Condition expression grammar, recursive descent with OR as the lowest
// precedence, then AND, then NOT, parentheses overriding:
//
//	condition := orExpr
//	orExpr    := andExpr { "or" andExpr }
//	andExpr   := unary { "and" unary }
//	unary     := "not" unary | primary
//	primary   := "(" orExpr ")" | countClause | seqClause | selection
//	countClause := "count" "(" selection ")" ">" NUMBER "within" DURATION [ "group-by" field ]
//	seqClause   := "seq" "(" selection { "," selection } ")" "within" DURATION "group-by" field
//
// count and seq clauses are only legal as the entire condition; nesting
// one under a boolean operator is rejected after parsing.

type nodeKind int

const (
	nodeSelection nodeKind = iota
	nodeNot
	nodeAnd
	nodeOr
	nodeCount
	nodeSeq
)

type condNode struct {
	kind        nodeKind
	selection   string
	left, right *condNode
	count       *CountPlan
	seq         *SeqPlan
}

// CountPlan is the compiled form of a threshold clause.
type CountPlan struct {
	Selection string
	Threshold int
	Window    time.Duration
	GroupBy   string
}

// SeqPlan is the compiled form of a sequence correlation clause: an
// automaton whose states are positions in Steps.
type SeqPlan struct {
	Steps   []string
	Window  time.Duration
	GroupBy string
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokDuration
	tokLParen
	tokRParen
	tokComma
	tokGT
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-'
}

// lexCondition splits a condition string into tokens. Words made of
// digits are numbers; words starting with a digit that parse as a Go
// duration are durations; everything else is an identifier or keyword.
func lexCondition(input string) ([]token, *CompileError) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case r == '>':
			toks = append(toks, token{tokGT, ">"})
			i++
		case isWordRune(r):
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			toks = append(toks, classifyWord(word))
		default:
			return nil, newError("", ErrMalformedCondition, "unexpected character %q at offset %d", string(r), i)
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func classifyWord(word string) token {
	if _, err := strconv.Atoi(word); err == nil {
		return token{tokNumber, word}
	}
	if unicode.IsDigit(rune(word[0])) {
		if _, err := time.ParseDuration(word); err == nil {
			return token{tokDuration, word}
		}
	}
	return token{tokIdent, word}
}

type condParser struct {
	toks []token
	pos  int
}

func parseCondition(input string) (*condNode, *CompileError) {
	if strings.TrimSpace(input) == "" {
		return nil, newError("", ErrEmptyCondition, "condition is empty")
	}
	toks, err := lexCondition(input)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, newError("", ErrMalformedCondition, "unexpected token %q after expression", p.peek().text)
	}
	if err := checkAggregatePlacement(node, true); err != nil {
		return nil, err
	}
	return node, nil
}

// checkAggregatePlacement rejects count/seq nodes below the root.
func checkAggregatePlacement(n *condNode, root bool) *CompileError {
	if n == nil {
		return nil
	}
	switch n.kind {
	case nodeCount:
		if !root {
			return newError("", ErrMalformedCondition, "count() must be the entire condition")
		}
	case nodeSeq:
		if !root {
			return newError("", ErrMalformedCondition, "seq() must be the entire condition")
		}
	}
	if err := checkAggregatePlacement(n.left, false); err != nil {
		return err
	}
	return checkAggregatePlacement(n.right, false)
}

func (p *condParser) peek() token { return p.toks[p.pos] }

func (p *condParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) expect(kind tokenKind, what string) (token, *CompileError) {
	t := p.next()
	if t.kind != kind {
		return token{}, newError("", ErrMalformedCondition, "expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *condParser) parseOr() (*condNode, *CompileError) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &condNode{kind: nodeOr, left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (*condNode, *CompileError) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &condNode{kind: nodeAnd, left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseUnary() (*condNode, *CompileError) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &condNode{kind: nodeNot, left: child}, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (*condNode, *CompileError) {
	t := p.next()
	switch {
	case t.kind == tokLParen:
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "closing parenthesis"); err != nil {
			return nil, err
		}
		return node, nil
	case t.kind == tokIdent && t.text == "count":
		return p.parseCount()
	case t.kind == tokIdent && t.text == "seq":
		return p.parseSeq()
	case t.kind == tokIdent:
		if isReservedWord(t.text) {
			return nil, newError("", ErrMalformedCondition, "unexpected keyword %q", t.text)
		}
		return &condNode{kind: nodeSelection, selection: t.text}, nil
	default:
		return nil, newError("", ErrMalformedCondition, "expected a selection name, got %q", t.text)
	}
}

func isReservedWord(word string) bool {
	switch word {
	case "and", "or", "not", "count", "seq", "within", "group-by":
		return true
	default:
		return false
	}
}

func (p *condParser) parseCount() (*condNode, *CompileError) {
	if _, err := p.expect(tokLParen, "'(' after count"); err != nil {
		return nil, err
	}
	sel, err := p.expect(tokIdent, "selection name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')' after selection"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokGT, "'>' after count()"); err != nil {
		return nil, err
	}
	numTok, err := p.expect(tokNumber, "threshold number")
	if err != nil {
		return nil, err
	}
	threshold, convErr := strconv.Atoi(numTok.text)
	if convErr != nil || threshold < 0 {
		return nil, newError("", ErrMalformedCondition, "invalid threshold %q", numTok.text)
	}
	window, cerr := p.parseWithin()
	if cerr != nil {
		return nil, cerr
	}
	groupBy, cerr := p.parseOptionalGroupBy()
	if cerr != nil {
		return nil, cerr
	}
	return &condNode{kind: nodeCount, count: &CountPlan{
		Selection: sel.text,
		Threshold: threshold,
		Window:    window,
		GroupBy:   groupBy,
	}}, nil
}

func (p *condParser) parseSeq() (*condNode, *CompileError) {
	if _, err := p.expect(tokLParen, "'(' after seq"); err != nil {
		return nil, err
	}
	var steps []string
	for {
		sel, err := p.expect(tokIdent, "selection name")
		if err != nil {
			return nil, err
		}
		steps = append(steps, sel.text)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, "')' after sequence steps"); err != nil {
		return nil, err
	}
	if len(steps) < 2 {
		return nil, newError("", ErrMalformedCondition, "seq() needs at least 2 steps, got %d", len(steps))
	}
	window, cerr := p.parseWithin()
	if cerr != nil {
		return nil, cerr
	}
	kw := p.next()
	if kw.kind != tokIdent || kw.text != "group-by" {
		return nil, newError("", ErrMalformedCondition, "seq() requires a group-by clause, got %q", kw.text)
	}
	field, err := p.expect(tokIdent, "group-by field")
	if err != nil {
		return nil, err
	}
	return &condNode{kind: nodeSeq, seq: &SeqPlan{
		Steps:   steps,
		Window:  window,
		GroupBy: field.text,
	}}, nil
}

func (p *condParser) parseWithin() (time.Duration, *CompileError) {
	kw := p.next()
	if kw.kind != tokIdent || kw.text != "within" {
		return 0, newError("", ErrMalformedCondition, "expected 'within', got %q", kw.text)
	}
	durTok := p.next()
	if durTok.kind != tokDuration && durTok.kind != tokIdent && durTok.kind != tokNumber {
		return 0, newError("", ErrMalformedCondition, "expected time window, got %q", durTok.text)
	}
	window, parseErr := time.ParseDuration(durTok.text)
	if parseErr != nil {
		return 0, newError("", ErrInvalidWindow, "invalid window %q: %v", durTok.text, parseErr)
	}
	if window <= 0 {
		return 0, newError("", ErrInvalidWindow, "window must be positive, got %s", window)
	}
	return window, nil
}

func (p *condParser) parseOptionalGroupBy() (string, *CompileError) {
	if p.peek().kind == tokIdent && p.peek().text == "group-by" {
		p.next()
		field, err := p.expect(tokIdent, "group-by field")
		if err != nil {
			return "", err
		}
		return field.text, nil
	}
	return "", nil
}

// containsNot reports whether any node of the tree is a negation. A
// negated selection can hold on an event that carries none of the
// rule's fields, so such trees defeat field-presence indexing.
func containsNot(n *condNode) bool {
	if n == nil {
		return false
	}
	if n.kind == nodeNot {
		return true
	}
	return containsNot(n.left) || containsNot(n.right)
}

// selectionRefs collects every selection name referenced by the tree.
func selectionRefs(n *condNode, out map[string]struct{}) {
	if n == nil {
		return
	}
	switch n.kind {
	case nodeSelection:
		out[n.selection] = struct{}{}
	case nodeCount:
		out[n.count.Selection] = struct{}{}
	case nodeSeq:
		for _, step := range n.seq.Steps {
			out[step] = struct{}{}
		}
	}
	selectionRefs(n.left, out)
	selectionRefs(n.right, out)
}

// evalBool evaluates a pure boolean tree against per-selection match
// results. Aggregate nodes never reach here.
func evalBool(n *condNode, matches map[string]bool) bool {
	switch n.kind {
	case nodeSelection:
		return matches[n.selection]
	case nodeNot:
		return !evalBool(n.left, matches)
	case nodeAnd:
		return evalBool(n.left, matches) && evalBool(n.right, matches)
	case nodeOr:
		return evalBool(n.left, matches) || evalBool(n.right, matches)
	default:
		return false
	}
}
