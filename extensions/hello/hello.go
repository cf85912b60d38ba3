// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package hello is the smallest complete vtab extension: hello(name)
// returns a single VARCHAR row "Hello <name>".
package hello

import (
	"github.com/Query-farm/vgi-vtab/vtab"
)

// FunctionName is the name ExtInit registers the provider under.
const FunctionName = "hello"

// BindData holds the name given at the call site.
type BindData struct {
	Name string
}

// InitData records whether the greeting was already emitted by this scan.
type InitData struct {
	Done bool
}

// Provider implements hello(name VARCHAR) -> (column0 VARCHAR).
type Provider struct{}

var _ vtab.Provider[BindData, InitData] = Provider{}

func (Provider) Parameters() []vtab.LogicalType {
	return []vtab.LogicalType{vtab.NewLogicalType(vtab.Varchar)}
}

func (Provider) Bind(info *vtab.BindInfo) (*BindData, error) {
	if err := info.AddResultColumn("column0", vtab.NewLogicalType(vtab.Varchar)); err != nil {
		return nil, err
	}
	name, err := info.Parameter(0)
	if err != nil {
		return nil, err
	}
	return &BindData{Name: name.String()}, nil
}

func (Provider) Init(*vtab.InitInfo[BindData]) (*InitData, error) {
	return &InitData{Done: false}, nil
}

func (Provider) Produce(info *vtab.FunctionInfo[BindData, InitData], output *vtab.DataChunk) error {
	state := info.InitData()
	if state.Done {
		return output.SetSize(0)
	}
	state.Done = true
	if err := output.SetValue(0, 0, "Hello "+info.BindData().Name); err != nil {
		return err
	}
	return output.SetSize(1)
}

// ExtInit is the extension entry point. It registers hello in session.
func ExtInit(session *vtab.Session) error {
	return vtab.Register[BindData, InitData](session, FunctionName, Provider{})
}
