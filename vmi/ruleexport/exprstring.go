package ruleexport

import (
	"strconv"

	"github.com/chrschn/insightgo/pkg/types"
)

// exprString renders a *types.Expr back into the textual grammar
// internal/rulexml's ParseExpr parses — the inverse of that parser, used by
// convertAction to emit an <expression> an operator catalogue's author could
// have typed by hand. A nil expression renders as "".
func exprString(e *types.Expr) string {
	if e == nil {
		return ""
	}
	switch e.Op {
	case types.ExprLiteral:
		return literalString(e)
	case types.ExprEnumerator:
		// no surface syntax names an enumerator directly; fall back to its
		// integer value, which ParseExpr still accepts.
		return literalString(&types.Expr{LiteralInt: e.EnumValue})
	case types.ExprVariableRef:
		return variableRefString(e)
	case types.ExprUnary:
		return unaryString(e)
	case types.ExprBinary:
		return binaryString(e)
	default:
		return ""
	}
}

func literalString(e *types.Expr) string {
	if e.LiteralIsReal {
		return strconv.FormatFloat(e.LiteralReal, 'g', -1, 64)
	}
	return strconv.FormatInt(e.LiteralInt, 10)
}

// variableRefString renders "self" or a named variable followed by its
// transform list. ParseExpr only ever produces a TransformDeref immediately
// followed by a TransformField (its "->" branch), so that pair is rendered
// as a single "->field" token rather than as two separate steps.
func variableRefString(e *types.Expr) string {
	name := e.VarName
	if name == "" {
		name = "self"
	}
	out := name
	trs := e.Transforms
	for i := 0; i < len(trs); i++ {
		tr := trs[i]
		switch tr.Kind {
		case types.TransformField:
			out += "." + tr.Field
		case types.TransformDeref:
			if i+1 < len(trs) && trs[i+1].Kind == types.TransformField {
				out += "->" + trs[i+1].Field
				i++
				continue
			}
			out += "*"
		case types.TransformIndex:
			out += "[" + strconv.FormatInt(tr.Index, 10) + "]"
		case types.TransformCallCoercion:
			// a coercion has no surface syntax of its own; it is implied by
			// context on reparse, so it contributes nothing here.
		}
	}
	return out
}

func unaryString(e *types.Expr) string {
	sym := ""
	switch e.UnOp {
	case types.UnaryNeg:
		sym = "-"
	case types.UnaryNot:
		sym = "!"
	case types.UnaryBitNot:
		sym = "~"
	case types.UnaryDeref:
		sym = "*"
	}
	return sym + exprTermString(e.Operand)
}

func binaryString(e *types.Expr) string {
	sym, ok := binSymbols[e.BinOp]
	if !ok {
		sym = "?"
	}
	return exprTermString(e.Left) + " " + sym + " " + exprTermString(e.Right)
}

// exprTermString parenthesizes a binary sub-expression so precedence
// survives the round trip; ParseExpr re-derives precedence from the
// operator table on reparse, so a paren around any binary operand is always
// safe even where it is not strictly required.
func exprTermString(e *types.Expr) string {
	if e == nil {
		return ""
	}
	if e.Op == types.ExprBinary {
		return "(" + binaryString(e) + ")"
	}
	return exprString(e)
}

var binSymbols = map[types.BinaryOp]string{
	types.BinaryAdd: "+", types.BinarySub: "-", types.BinaryMul: "*", types.BinaryDiv: "/",
	types.BinaryShl: "<<", types.BinaryShr: ">>",
	types.BinaryAnd: "&", types.BinaryOr: "|", types.BinaryXor: "^",
	types.BinaryEq: "==", types.BinaryNe: "!=",
	types.BinaryLt: "<", types.BinaryLe: "<=", types.BinaryGt: ">", types.BinaryGe: ">=",
}
