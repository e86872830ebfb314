package ruleexport

import (
	"testing"

	"github.com/chrschn/insightgo/internal/symstream"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/stretchr/testify/require"
)

func buildDeriveGraph(t *testing.T) *typegraph.Graph {
	t.Helper()
	g := typegraph.New()
	require.NoError(t, g.Add(symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "int", Size: 4, Encoding: "signed"}))
	require.NoError(t, g.Add(symstream.Record{ID: 2, Kind: symstream.RecordStruct, Name: "task_struct", Size: 8, Sub: []symstream.SubRecord{
		{Name: "ops", Offset: 0, Referent: 1},
	}}))
	require.NoError(t, g.Add(symstream.Record{ID: 3, Kind: symstream.RecordStruct, Name: "net_device", Size: 8}))
	require.NoError(t, g.Add(symstream.Record{ID: 10, Kind: symstream.RecordVariable, Name: "init_task", Address: 0x1000, Referent: 2}))
	g.Resolve()
	return g
}

// TestDeriveFiles_VariableAltReferent covers §4.7's core case: a global
// variable's own alternative referent type becomes one rule, priced at the
// non-trivial transformation count plus 10 for a variable-bound rule.
func TestDeriveFiles_VariableAltReferent(t *testing.T) {
	g := buildDeriveGraph(t)
	v, ok := g.Variable("init_task")
	require.True(t, ok)
	v.AltReferents = []*types.AltReferentType{
		{
			TargetType: 3,
			Expr: &types.Expr{
				Op:         types.ExprVariableRef,
				Transforms: []types.Transform{{Kind: types.TransformField, Field: "ops"}},
			},
		},
	}

	files := DeriveFiles(g)
	require.Len(t, files, 1)
	require.Equal(t, "init_task", files[0].Symbol)
	require.Len(t, files[0].Rules, 1)

	r := files[0].Rules[0]
	require.Equal(t, 11, r.Priority)
	require.Equal(t, "net_device", r.Action.TargetTypeName)
	require.Equal(t, "init_task", r.Filter.VariableName.Pattern)
}

// TestDeriveFiles_RejectsDerefAfterField covers the "s->member->other"
// rejection rule: a transformation chain with a field access followed by a
// pointer dereference never becomes a rule.
func TestDeriveFiles_RejectsDerefAfterField(t *testing.T) {
	g := buildDeriveGraph(t)
	v, ok := g.Variable("init_task")
	require.True(t, ok)
	v.AltReferents = []*types.AltReferentType{
		{
			TargetType: 3,
			Expr: &types.Expr{
				Op: types.ExprVariableRef,
				Transforms: []types.Transform{
					{Kind: types.TransformField, Field: "ops"},
					{Kind: types.TransformDeref},
					{Kind: types.TransformField, Field: "other"},
				},
			},
		},
	}

	require.Empty(t, DeriveFiles(g))
}

// TestDeriveFiles_RejectsMismatchedSource covers the "candidate expression's
// source type matches the symbol's type" check: a variable reference naming
// some other symbol is dropped rather than emitted.
func TestDeriveFiles_RejectsMismatchedSource(t *testing.T) {
	g := buildDeriveGraph(t)
	v, ok := g.Variable("init_task")
	require.True(t, ok)
	v.AltReferents = []*types.AltReferentType{
		{TargetType: 3, Expr: &types.Expr{Op: types.ExprVariableRef, VarName: "some_other_global"}},
	}

	require.Empty(t, DeriveFiles(g))
}

// TestDeriveFiles_MemberAltReferent covers a struct member's own alternative
// referent types, priced at the transformation count alone (no +10).
func TestDeriveFiles_MemberAltReferent(t *testing.T) {
	g := buildDeriveGraph(t)
	task, ok := g.FindByID(2)
	require.True(t, ok)
	task.Members[0].AltReferents = []*types.AltReferentType{
		{TargetType: 3, Expr: &types.Expr{Op: types.ExprVariableRef}},
	}

	files := DeriveFiles(g)
	require.Len(t, files, 1)
	require.Equal(t, "task_struct", files[0].Symbol)

	r := files[0].Rules[0]
	require.Equal(t, 0, r.Priority)
	require.Equal(t, "task_struct", r.Filter.TypeName.Pattern)
	require.Len(t, r.Filter.MemberPath, 1)
	require.Equal(t, "ops", r.Filter.MemberPath[0].FieldPattern.Pattern)
}

// TestDeriveFiles_AnonymousStructDedup covers the "dedupe anonymous structs
// by routing them through a synthesized typedef name" rule: two
// structurally-identical anonymous structs only ever produce one file.
func TestDeriveFiles_AnonymousStructDedup(t *testing.T) {
	g := typegraph.New()
	require.NoError(t, g.Add(symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "int", Size: 4, Encoding: "signed"}))
	require.NoError(t, g.Add(symstream.Record{ID: 2, Kind: symstream.RecordStruct, Size: 4, Sub: []symstream.SubRecord{
		{Name: "x", Referent: 1},
	}}))
	require.NoError(t, g.Add(symstream.Record{ID: 3, Kind: symstream.RecordStruct, Size: 4, Sub: []symstream.SubRecord{
		{Name: "x", Referent: 1},
	}}))
	g.Resolve()

	t2, ok := g.FindByID(2)
	require.True(t, ok)
	t3, ok := g.FindByID(3)
	require.True(t, ok)

	h2, _ := t2.CachedHash()
	h3, _ := t3.CachedHash()
	require.Equal(t, h2, h3, "identical anonymous shapes must hash equal")

	t2.Members[0].AltReferents = []*types.AltReferentType{{TargetType: 1, Expr: &types.Expr{Op: types.ExprVariableRef}}}
	t3.Members[0].AltReferents = []*types.AltReferentType{{TargetType: 1, Expr: &types.Expr{Op: types.ExprVariableRef}}}

	files := DeriveFiles(g)
	require.Len(t, files, 1)
}

// TestDerive_Flattens checks the flat convenience wrapper sums every file's
// rules into one slice.
func TestDerive_Flattens(t *testing.T) {
	g := buildDeriveGraph(t)
	v, ok := g.Variable("init_task")
	require.True(t, ok)
	v.AltReferents = []*types.AltReferentType{
		{TargetType: 3, Expr: &types.Expr{Op: types.ExprVariableRef}},
	}
	task, ok := g.FindByID(2)
	require.True(t, ok)
	task.Members[0].AltReferents = []*types.AltReferentType{
		{TargetType: 3, Expr: &types.Expr{Op: types.ExprVariableRef}},
	}

	require.Len(t, Derive(g), 2)
}
