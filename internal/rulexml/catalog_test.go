package rulexml

import (
	"strings"
	"testing"

	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/ruleengine"
	"github.com/stretchr/testify/require"
)

const sampleCatalogue = `<?xml version="1.0"?>
<typeknowledge version="1" architecture="x86_64" minver="3.10.0" maxver="5.15.0">
  <ruleincludes>
    <include>mm.xml</include>
    <include>net.xml</include>
  </ruleincludes>
  <rule priority="5">
    <name>task-children-anchor</name>
    <description>rebind an empty children list head to its containing task_struct</description>
    <filter>
      <variablename>init_task</variablename>
      <type_name>task_struct</type_name>
      <datatype>struct</datatype>
      <members>
        <member match="wildcard">child*</member>
      </members>
    </filter>
    <action type="expression">
      <targetType>task_struct</targetType>
      <expression>self.children[0]</expression>
    </action>
  </rule>
  <rule priority="1">
    <name>fallback</name>
    <filter>
      <type_id>10</type_id>
    </filter>
    <action type="function">
      <scriptFile>fixups.py</scriptFile>
      <function>fixup_fallback</function>
    </action>
  </rule>
</typeknowledge>
`

func TestDecode_ParsesCatalogueIntoRules(t *testing.T) {
	cat, err := Decode(strings.NewReader(sampleCatalogue), "mm.xml")
	require.NoError(t, err)

	require.Equal(t, []string{"mm.xml", "net.xml"}, cat.Includes)
	require.NotNil(t, cat.OsFilter)
	require.Equal(t, memspecs.ArchX86_64, cat.OsFilter.Arch)

	require.Len(t, cat.Rules, 2)

	r0 := cat.Rules[0]
	require.Equal(t, "task-children-anchor", r0.Name)
	require.Equal(t, 5, r0.Priority)
	require.Equal(t, "mm.xml", r0.SourceFile)
	require.Equal(t, ruleengine.NameLiteral, r0.Filter.VariableName.Kind)
	require.Equal(t, "init_task", r0.Filter.VariableName.Pattern)
	require.Equal(t, ruleengine.MaskAggregate, r0.Filter.DataMask)
	require.Len(t, r0.Filter.MemberPath, 1)
	require.Equal(t, ruleengine.NameGlob, r0.Filter.MemberPath[0].FieldPattern.Kind)

	require.Equal(t, ruleengine.ActionExpression, r0.Action.Kind)
	require.Equal(t, "task_struct", r0.Action.TargetTypeName)
	require.NotNil(t, r0.Action.Expr)
	require.Equal(t, types.ExprVariableRef, r0.Action.Expr.Op)
	require.Len(t, r0.Action.Expr.Transforms, 2)
	require.Equal(t, types.TransformField, r0.Action.Expr.Transforms[0].Kind)
	require.Equal(t, "children", r0.Action.Expr.Transforms[0].Field)
	require.Equal(t, types.TransformIndex, r0.Action.Expr.Transforms[1].Kind)
	require.EqualValues(t, 0, r0.Action.Expr.Transforms[1].Index)

	r1 := cat.Rules[1]
	require.Equal(t, "fallback", r1.Name)
	require.EqualValues(t, 10, r1.Filter.TypeID)
	require.Equal(t, ruleengine.ActionScriptFunction, r1.Action.Kind)
	require.Equal(t, "fixups.py", r1.Action.ScriptFile)
	require.Equal(t, "fixup_fallback", r1.Action.FuncName)
}

func TestDecode_RejectsUnknownActionType(t *testing.T) {
	const bad = `<typeknowledge>
  <rule priority="0">
    <name>broken</name>
    <filter><type_id>1</type_id></filter>
    <action type="bogus"></action>
  </rule>
</typeknowledge>`
	_, err := Decode(strings.NewReader(bad), "broken.xml")
	require.Error(t, err)
}

func TestParseExpr(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"field access", "self.next"},
		{"arrow deref", "self->pid"},
		{"indexed", "self.children[2]"},
		{"arithmetic", "self.offset + 8"},
		{"nested", "self.list.next->prev"},
		{"literal hex", "0x18"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := ParseExpr(tc.expr)
			require.NoError(t, err)
			require.NotNil(t, e)
		})
	}
}

func TestParseExpr_FieldAndIndexTransforms(t *testing.T) {
	e, err := ParseExpr("self.children[0]")
	require.NoError(t, err)
	require.Equal(t, types.ExprVariableRef, e.Op)
	require.Equal(t, "", e.VarName)
	require.Len(t, e.Transforms, 2)
	require.Equal(t, "children", e.Transforms[0].Field)
	require.EqualValues(t, 0, e.Transforms[1].Index)
}

func TestParseExpr_ArrowInsertsDerefThenField(t *testing.T) {
	e, err := ParseExpr("self->pid")
	require.NoError(t, err)
	require.Len(t, e.Transforms, 2)
	require.Equal(t, types.TransformDeref, e.Transforms[0].Kind)
	require.Equal(t, types.TransformField, e.Transforms[1].Kind)
	require.Equal(t, "pid", e.Transforms[1].Field)
}

func TestParseExpr_BinaryPrecedence(t *testing.T) {
	e, err := ParseExpr("self.offset + 4 * 2")
	require.NoError(t, err)
	require.Equal(t, types.ExprBinary, e.Op)
	require.Equal(t, types.BinaryAdd, e.BinOp)
	require.Equal(t, types.ExprBinary, e.Right.Op)
	require.Equal(t, types.BinaryMul, e.Right.BinOp)
}

func TestParseExpr_RejectsEmpty(t *testing.T) {
	_, err := ParseExpr("")
	require.Error(t, err)
}
