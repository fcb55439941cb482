// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"testing"

	"github.com/Query-farm/sse-plugin/internal/config"
	"github.com/Query-farm/sse-plugin/sse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDescribeCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"describe"})
	require.NoError(t, root.Execute())

	var doc struct {
		PluginIdentifier string `yaml:"plugin_identifier"`
		Functions        []struct {
			ID   int32  `yaml:"id"`
			Name string `yaml:"name"`
			Kind string `yaml:"kind"`
		} `yaml:"functions"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "Go SSE plugin", doc.PluginIdentifier)
	require.Len(t, doc.Functions, 11)
	assert.Equal(t, "SmartGuessDate", doc.Functions[5].Name)
	assert.Equal(t, "reduce", doc.Functions[1].Kind)
}

func TestBuildEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.ServerID = "fixed"
	cfg.Engine.UnknownFunction = "drain"

	reg := prometheus.NewRegistry()
	e, err := buildEngine(cfg, reg)
	require.NoError(t, err)
	assert.Equal(t, "fixed", e.ServerID())

	err = e.Execute(t.Context(), sse.Call{Header: &sse.CallHeader{FunctionID: 1234}}, sse.NewBufferedStream())
	assert.NoError(t, err, "unknown ids are drained")

	_, err = buildEngine(cfg, reg)
	assert.Error(t, err, "collectors register once per registry")

	cfg.Engine.ServerID = ""
	e, err = buildEngine(cfg, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ServerID())
}

func TestLoadServerTLSMissingFiles(t *testing.T) {
	_, err := loadServerTLS(t.TempDir())
	assert.ErrorContains(t, err, "server key pair")
}
