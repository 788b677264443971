// Package filter parses and evaluates the filter expressions accepted by
// boost criteria: field comparisons combined with AND, OR, NOT and
// parentheses. Malformed input is a user error.
package filter

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/RoaringBitmap/roaring/v2"

	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

// FacetLookup resolves field/value pairs into document-id sets.
type FacetLookup interface {
	// FacetDocids returns the documents whose field holds value.
	FacetDocids(ctx context.Context, field, value string) (*roaring.Bitmap, error)
	// AllDocids returns every document of the index; needed to complement
	// negated clauses.
	AllDocids(ctx context.Context) (*roaring.Bitmap, error)
}

// Expr is a parsed filter expression.
type Expr interface {
	Evaluate(ctx context.Context, lookup FacetLookup) (*roaring.Bitmap, error)
	String() string
}

// Parse parses a filter expression. The returned error wraps
// ErrInvalidFilter for any syntax problem.
func Parse(input string) (Expr, error) {
	p := &parser{tokens: lex(input)}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxErr("unexpected %q", tok.text)
	}
	return expr, nil
}

func syntaxErr(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrInvalidFilter, 400, format, args...)
}

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokEq
	tokNeq
	tokLParen
	tokRParen
	tokComma
)

type filterToken struct {
	kind tokenKind
	text string
}

func lex(input string) []filterToken {
	var tokens []filterToken
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, filterToken{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, filterToken{kind: tokRParen, text: ")"})
			i++
		case r == ',':
			tokens = append(tokens, filterToken{kind: tokComma, text: ","})
			i++
		case r == '=':
			tokens = append(tokens, filterToken{kind: tokEq, text: "="})
			i++
		case r == '!' && i+1 < len(runes) && runes[i+1] == '=':
			tokens = append(tokens, filterToken{kind: tokNeq, text: "!="})
			i += 2
		case r == '"' || r == '\'':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			tokens = append(tokens, filterToken{kind: tokString, text: string(runes[i+1 : j])})
			if j < len(runes) {
				j++
			}
			i = j
		default:
			j := i
			for j < len(runes) && !unicode.IsSpace(runes[j]) &&
				!strings.ContainsRune(`(),=!"'`, runes[j]) {
				j++
			}
			if j == i {
				// lone punctuation such as a bare !
				j = i + 1
			}
			tokens = append(tokens, filterToken{kind: tokWord, text: string(runes[i:j])})
			i = j
		}
	}
	return append(tokens, filterToken{kind: tokEOF})
}

type parser struct {
	tokens []filterToken
	pos    int
}

func (p *parser) peek() filterToken { return p.tokens[p.pos] }

func (p *parser) next() filterToken {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) keyword(word string) bool {
	tok := p.peek()
	if tok.kind == tokWord && strings.EqualFold(tok.text, word) {
		p.next()
		return true
	}
	return false
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("NOT") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, syntaxErr("missing closing parenthesis")
		}
		return inner, nil
	}

	field := p.next()
	if field.kind != tokWord {
		return nil, syntaxErr("expected a field name, got %q", field.text)
	}
	switch op := p.next(); {
	case op.kind == tokEq:
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		return eqExpr{field: field.text, value: value}, nil
	case op.kind == tokNeq:
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: eqExpr{field: field.text, value: value}}, nil
	case op.kind == tokWord && strings.EqualFold(op.text, "IN"):
		return p.parseIn(field.text)
	default:
		return nil, syntaxErr("expected an operator after %q, got %q", field.text, op.text)
	}
}

func (p *parser) parseIn(field string) (Expr, error) {
	if p.next().kind != tokLParen {
		return nil, syntaxErr("expected ( after IN")
	}
	var values []string
	for {
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
		switch tok := p.next(); tok.kind {
		case tokComma:
		case tokRParen:
			return inExpr{field: field, values: values}, nil
		default:
			return nil, syntaxErr("expected , or ) in IN list, got %q", tok.text)
		}
	}
}

func (p *parser) value() (string, error) {
	tok := p.next()
	if tok.kind != tokWord && tok.kind != tokString {
		return "", syntaxErr("expected a value, got %q", tok.text)
	}
	return tok.text, nil
}

type eqExpr struct {
	field, value string
}

func (e eqExpr) Evaluate(ctx context.Context, lookup FacetLookup) (*roaring.Bitmap, error) {
	return lookup.FacetDocids(ctx, e.field, e.value)
}

func (e eqExpr) String() string { return fmt.Sprintf("%s = %q", e.field, e.value) }

type inExpr struct {
	field  string
	values []string
}

func (e inExpr) Evaluate(ctx context.Context, lookup FacetLookup) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, v := range e.values {
		b, err := lookup.FacetDocids(ctx, e.field, v)
		if err != nil {
			return nil, err
		}
		out.Or(b)
	}
	return out, nil
}

func (e inExpr) String() string {
	return fmt.Sprintf("%s IN (%s)", e.field, strings.Join(e.values, ", "))
}

type andExpr struct {
	left, right Expr
}

func (e andExpr) Evaluate(ctx context.Context, lookup FacetLookup) (*roaring.Bitmap, error) {
	l, err := e.left.Evaluate(ctx, lookup)
	if err != nil {
		return nil, err
	}
	r, err := e.right.Evaluate(ctx, lookup)
	if err != nil {
		return nil, err
	}
	return roaring.And(l, r), nil
}

func (e andExpr) String() string { return fmt.Sprintf("(%s AND %s)", e.left, e.right) }

type orExpr struct {
	left, right Expr
}

func (e orExpr) Evaluate(ctx context.Context, lookup FacetLookup) (*roaring.Bitmap, error) {
	l, err := e.left.Evaluate(ctx, lookup)
	if err != nil {
		return nil, err
	}
	r, err := e.right.Evaluate(ctx, lookup)
	if err != nil {
		return nil, err
	}
	return roaring.Or(l, r), nil
}

func (e orExpr) String() string { return fmt.Sprintf("(%s OR %s)", e.left, e.right) }

type notExpr struct {
	inner Expr
}

func (e notExpr) Evaluate(ctx context.Context, lookup FacetLookup) (*roaring.Bitmap, error) {
	inner, err := e.inner.Evaluate(ctx, lookup)
	if err != nil {
		return nil, err
	}
	all, err := lookup.AllDocids(ctx)
	if err != nil {
		return nil, err
	}
	return roaring.AndNot(all, inner), nil
}

func (e notExpr) String() string { return fmt.Sprintf("NOT %s", e.inner) }
