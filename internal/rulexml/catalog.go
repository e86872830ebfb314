// Package rulexml decodes the rule catalogue's XML format (§6 "Rule
// catalogue") into vmi/ruleengine.TypeRule values. No example in the
// retrieval pack exercises XML, so this package leans on the standard
// library's encoding/xml rather than a third-party decoder; see DESIGN.md
// for the justification.
package rulexml

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/ruleengine"
)

type xmlCatalog struct {
	XMLName      xml.Name     `xml:"typeknowledge"`
	Version      string       `xml:"version,attr"`
	OS           string       `xml:"os,attr"`
	Architecture string       `xml:"architecture,attr"`
	MinVer       string       `xml:"minver,attr"`
	MaxVer       string       `xml:"maxver,attr"`
	Includes     []xmlInclude `xml:"ruleincludes>include"`
	Rules        []xmlRule    `xml:"rule"`
}

type xmlInclude struct {
	Path string `xml:",chardata"`
}

type xmlRule struct {
	Priority    int       `xml:"priority,attr"`
	Name        string    `xml:"name"`
	Description string    `xml:"description"`
	Filter      xmlFilter `xml:"filter"`
	Action      xmlAction `xml:"action"`
}

type xmlFilter struct {
	VariableName string      `xml:"variablename"`
	DataType     string      `xml:"datatype"`
	TypeName     string      `xml:"type_name"`
	TypeID       int64       `xml:"type_id"`
	Members      []xmlMember `xml:"members>member"`
}

type xmlMember struct {
	Match string `xml:"match,attr"` // "regex" | "wildcard" | "any"
	Name  string `xml:",chardata"`
}

type xmlAction struct {
	Type       string `xml:"type,attr"` // "expression" | "inline" | "function"
	SrcType    string `xml:"srcType"`
	TargetType string `xml:"targetType"`
	Expression string `xml:"expression"`
	ScriptFile string `xml:"scriptFile"`
	FuncName   string `xml:"function"`
	Body       string `xml:"body"`
}

// Catalogue is a decoded rule file: its OS/architecture/version filter, the
// rules it defines, and the sub-directory includes the caller is
// responsible for walking (catalogue file discovery is an I/O concern left
// to the caller, same as "rule loading is out of scope" in §4.4).
type Catalogue struct {
	OsFilter *ruleengine.OsFilter
	Rules    []*ruleengine.TypeRule
	Includes []string
}

// Decode parses one rule catalogue XML document from r.
func Decode(r io.Reader, sourceFile string) (*Catalogue, error) {
	var doc xmlCatalog
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, vmierr.Wrap(vmierr.KindRule, "rulexml: malformed catalogue", err)
	}

	cat := &Catalogue{}
	if doc.Architecture != "" || doc.MinVer != "" || doc.MaxVer != "" {
		cat.OsFilter = &ruleengine.OsFilter{
			Arch:       memspecs.Arch(doc.Architecture),
			MinVersion: parseVersion(doc.MinVer),
			MaxVersion: parseVersion(doc.MaxVer),
		}
	}
	for _, inc := range doc.Includes {
		cat.Includes = append(cat.Includes, inc.Path)
	}
	for i, xr := range doc.Rules {
		rule, err := convertRule(xr, sourceFile, i)
		if err != nil {
			return nil, err
		}
		cat.Rules = append(cat.Rules, rule)
	}
	return cat, nil
}

func convertRule(xr xmlRule, sourceFile string, line int) (*ruleengine.TypeRule, error) {
	filter, err := convertFilter(xr.Filter)
	if err != nil {
		return nil, err
	}
	action, err := convertAction(xr.Action)
	if err != nil {
		return nil, err
	}
	return &ruleengine.TypeRule{
		Name:        xr.Name,
		Description: xr.Description,
		Filter:      filter,
		Action:      action,
		Priority:    xr.Priority,
		SourceFile:  sourceFile,
		Line:        line,
	}, nil
}

func convertFilter(xf xmlFilter) (*ruleengine.Filter, error) {
	f := &ruleengine.Filter{}
	if xf.VariableName != "" {
		f.VariableName = ruleengine.Literal(xf.VariableName)
	}
	if xf.TypeName != "" {
		f.TypeName = ruleengine.Literal(xf.TypeName)
	}
	f.TypeID = types.TypeID(xf.TypeID)
	if xf.DataType != "" {
		mask, err := parseDataTypeMask(xf.DataType)
		if err != nil {
			return nil, err
		}
		f.DataMask = mask
	}
	for _, xm := range xf.Members {
		pattern, err := convertMemberPattern(xm)
		if err != nil {
			return nil, err
		}
		f.MemberPath = append(f.MemberPath, ruleengine.PathStep{FieldPattern: pattern})
	}
	return f, nil
}

func convertMemberPattern(xm xmlMember) (ruleengine.NamePattern, error) {
	switch xm.Match {
	case "", "any":
		return ruleengine.NamePattern{Kind: ruleengine.NameAny}, nil
	case "wildcard":
		return ruleengine.Glob(xm.Name), nil
	case "regex":
		return ruleengine.Regex(xm.Name), nil
	default:
		return ruleengine.NamePattern{}, vmierr.Newf(vmierr.KindRule, "rulexml: unknown member match mode %q", xm.Match)
	}
}

func convertAction(xa xmlAction) (*ruleengine.Action, error) {
	a := &ruleengine.Action{SourceTypeName: xa.SrcType, TargetTypeName: xa.TargetType}
	switch xa.Type {
	case "expression", "":
		a.Kind = ruleengine.ActionExpression
		expr, err := ParseExpr(xa.Expression)
		if err != nil {
			return nil, vmierr.Wrap(vmierr.KindRule, "rulexml: bad expression", err)
		}
		a.Expr = expr
	case "inline":
		a.Kind = ruleengine.ActionInlineScript
		a.ScriptBody = xa.Body
	case "function":
		a.Kind = ruleengine.ActionScriptFunction
		a.ScriptFile = xa.ScriptFile
		a.FuncName = xa.FuncName
	default:
		return nil, vmierr.Newf(vmierr.KindRule, "rulexml: unknown action type %q", xa.Type)
	}
	return a, nil
}

func parseVersion(s string) memspecs.KernelVersion {
	if s == "" {
		return memspecs.KernelVersion{}
	}
	return memspecs.KernelVersion{Release: s}
}

func parseDataTypeMask(s string) (ruleengine.KindMask, error) {
	switch s {
	case "numeric":
		return ruleengine.MaskNumeric, nil
	case "pointer":
		return ruleengine.MaskPointer, nil
	case "array":
		return ruleengine.MaskArray, nil
	case "struct", "aggregate":
		return ruleengine.MaskAggregate, nil
	case "enum":
		return ruleengine.MaskEnum, nil
	case "function-pointer":
		return ruleengine.MaskFuncPointer, nil
	default:
		return 0, fmt.Errorf("rulexml: unknown datatype %q", s)
	}
}
