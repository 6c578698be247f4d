// Package resolver substitutes <block.field> and {{ENV}} reference tokens
// inside block sub-block values, per spec.md §4.2 and the re-architecture
// note in spec.md §9: tokens are lexed into a Fragment AST once, then
// resolved by walking the fragment list — never regex substitution at
// resolve time, and never re-expanded once substituted (no cycles).
package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
)

// Fragment is one piece of a lexed reference string.
type Fragment interface{ isFragment() }

// Literal is plain text copied through unchanged.
type Literal string

func (Literal) isFragment() {}

// BlockRef is a <blockNameOrId.outputField[.subfield...]> token.
type BlockRef struct {
	Raw  string // full token text between the angle brackets
	Path []string
}

func (BlockRef) isFragment() {}

// EnvRef is a {{ENV_VAR}} token.
type EnvRef struct{ Name string }

func (EnvRef) isFragment() {}

// Lex splits raw into a sequence of fragments. Angle-bracket and
// double-brace tokens are disjoint and may coexist in the same string
// (spec.md §6).
func Lex(raw string) []Fragment {
	var frags []Fragment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			frags = append(frags, Literal(lit.String()))
			lit.Reset()
		}
	}

	i := 0
	for i < len(raw) {
		switch {
		case raw[i] == '{' && i+1 < len(raw) && raw[i+1] == '{':
			if end := strings.Index(raw[i+2:], "}}"); end >= 0 {
				name := strings.TrimSpace(raw[i+2 : i+2+end])
				flush()
				frags = append(frags, EnvRef{Name: name})
				i = i + 2 + end + 2
				continue
			}
			lit.WriteByte(raw[i])
			i++
		case raw[i] == '<':
			if end := strings.IndexByte(raw[i+1:], '>'); end >= 0 {
				token := raw[i+1 : i+1+end]
				flush()
				frags = append(frags, BlockRef{Raw: token, Path: strings.Split(token, ".")})
				i = i + 1 + end + 1
				continue
			}
			lit.WriteByte(raw[i])
			i++
		default:
			lit.WriteByte(raw[i])
			i++
		}
	}
	flush()

	return frags
}

// BlockState is the resolver's view of an executed block's recorded output,
// keyed by port/field name.
type BlockState struct {
	Output map[string]any
}

// Context is the subset of the execution context the resolver needs.
type Context struct {
	// BlockStates maps a block id to its recorded output.
	BlockStates map[string]BlockState
	// BlockNameToID maps a block's display name to its id, for
	// <blockName.field> lookups. A name with more than one owner is
	// omitted so lookups fall back to id-only resolution.
	BlockNameToID map[string]string
	// EnvironmentVariables holds decrypted plaintext, never ciphertext.
	EnvironmentVariables map[string]string
}

// Resolve resolves every token in raw against ctx, left to right. A value
// that is the *entire* raw string and resolves to a single non-string
// fragment preserves its native type (object, number, bool); otherwise all
// fragments are stringified and concatenated.
func Resolve(raw string, ctx Context) (any, error) {
	frags := Lex(raw)

	if len(frags) == 1 {
		if v, native, err := resolveOne(frags[0], ctx); err != nil {
			return nil, err
		} else if native {
			return v, nil
		}
	}

	var sb strings.Builder
	for _, f := range frags {
		v, _, err := resolveOne(f, ctx)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(v))
	}
	return sb.String(), nil
}

// resolveOne resolves a single fragment. native reports whether the
// fragment's resolved value should be preserved as-is when it is the sole
// fragment in the string (spec.md §4.2 typing rule).
func resolveOne(f Fragment, ctx Context) (value any, native bool, err error) {
	switch v := f.(type) {
	case Literal:
		return string(v), false, nil
	case EnvRef:
		val, ok := ctx.EnvironmentVariables[v.Name]
		if !ok {
			return nil, false, fmt.Errorf("%w: %q", flowerrors.ErrMissingEnvironmentVariable, v.Name)
		}
		return val, false, nil
	case BlockRef:
		val, err := resolveBlockRef(v, ctx)
		if err != nil {
			return nil, false, err
		}
		return val, true, nil
	default:
		return nil, false, fmt.Errorf("resolver: unknown fragment type %T", f)
	}
}

func resolveBlockRef(ref BlockRef, ctx Context) (any, error) {
	if len(ref.Path) < 1 {
		return nil, fmt.Errorf("%w: empty reference %q", flowerrors.ErrUnresolvedReference, ref.Raw)
	}

	name := ref.Path[0]
	id, ok := ctx.BlockNameToID[name]
	if !ok {
		id = name // fall back to treating it as an id directly
	}

	state, ok := ctx.BlockStates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q has not executed", flowerrors.ErrUnresolvedReference, ref.Raw)
	}

	var cur any = state.Output
	for _, field := range ref.Path[1:] {
		cur, ok = navigate(cur, field)
		if !ok {
			return nil, fmt.Errorf("%w: field %q not found in %q", flowerrors.ErrUnresolvedReference, field, ref.Raw)
		}
	}
	return cur, nil
}

// navigate steps into a map[string]any or []any by field/index name.
func navigate(cur any, field string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[field]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(field)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
