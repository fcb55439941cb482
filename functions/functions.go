// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package functions defines the functions exposed by the plugin and their
// execution strategies.
package functions

import (
	"time"

	"github.com/Query-farm/sse-plugin/locale"
	"github.com/Query-farm/sse-plugin/sse"
)

// Function ids. They are part of the contract with the host and never change.
const (
	IDAdd42              int32 = 0
	IDSumOfAllNumbers    int32 = 1
	IDConcatenate        int32 = 2
	IDCallCounter        int32 = 3
	IDCallCounterNoCache int32 = 4
	IDSmartGuessDate     int32 = 5
	IDEchoString         int32 = 6
	IDSumOfRows          int32 = 7
	IDSumOfColumn        int32 = 8
	IDCache              int32 = 9
	IDNoCache            int32 = 10
)

// DefaultInfo identifies the plugin in the capability table.
var DefaultInfo = sse.PluginInfo{Identifier: "Go SSE plugin", Version: "1.0.0"}

// Config holds the collaborators of the function set.
type Config struct {
	// Matcher resolves locale hints for SmartGuessDate. A matcher over the
	// default catalog is used when nil.
	Matcher *locale.Matcher
	// Now is the clock of the Cache functions. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() (Config, error) {
	if c.Matcher == nil {
		m, err := locale.NewMatcher(locale.DefaultCatalog(), 256)
		if err != nil {
			return c, err
		}
		c.Matcher = m
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c, nil
}

// New returns the function table in id order.
func New(cfg Config) ([]sse.Function, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return []sse.Function{
		add42(),
		sumOfAllNumbers(),
		concatenate(),
		callCounter(IDCallCounter, "CallCounter", false),
		callCounter(IDCallCounterNoCache, "CallCounterNoCache", true),
		smartGuessDate(cfg.Matcher),
		echoString(),
		sumOfRows(),
		sumOfColumn(),
		stamp(IDCache, "Cache", cfg.Now, false),
		stamp(IDNoCache, "NoCache", cfg.Now, true),
	}, nil
}

// Register builds an engine serving the function table.
func Register(info sse.PluginInfo, cfg Config, opts ...sse.Option) (*sse.Engine, error) {
	fns, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return sse.NewEngine(info, fns, opts...)
}

func param(name string, t sse.DataType) sse.Parameter {
	return sse.Parameter{Name: name, Type: t}
}
