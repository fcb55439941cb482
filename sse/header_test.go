// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCallHeaderCodec(t *testing.T) {
	for _, h := range []CallHeader{
		{},
		{FunctionID: 5},
		{FunctionID: 7, Version: "1.2"},
		{FunctionID: -3},
	} {
		got, err := UnmarshalCallHeader(MarshalCallHeader(h))
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestCallHeaderSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = append(b, MarshalCallHeader(CallHeader{FunctionID: 2, Version: "v"})...)
	b = protowire.AppendTag(b, 10, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 1)

	h, err := UnmarshalCallHeader(b)
	require.NoError(t, err)
	assert.Equal(t, CallHeader{FunctionID: 2, Version: "v"}, h)
}

func TestCallHeaderRejectsTruncatedInput(t *testing.T) {
	b := MarshalCallHeader(CallHeader{FunctionID: 1, Version: "long version"})
	_, err := UnmarshalCallHeader(b[:len(b)-3])
	assert.Error(t, err)
}

func TestCommonHeaderCodec(t *testing.T) {
	h := CommonHeader{AppID: "app", UserID: "UserDirectory=x; UserId=y", Cardinality: 1000}
	got, err := UnmarshalCommonHeader(MarshalCommonHeader(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestReadCall(t *testing.T) {
	md := map[string]string{
		MetaFunctionHeader: EncodeBinaryValue(MarshalCallHeader(CallHeader{FunctionID: 3})),
		MetaCommonHeader:   EncodeBinaryValue(MarshalCommonHeader(CommonHeader{AppID: "a"})),
	}
	lookup := func(k string) (string, bool) { v, ok := md[k]; return v, ok }

	call, err := ReadCall(TextMetadata(lookup))
	require.NoError(t, err)
	require.NotNil(t, call.Header)
	assert.Equal(t, int32(3), call.Header.FunctionID)
	require.NotNil(t, call.Common)
	assert.Equal(t, "a", call.Common.AppID)

	t.Run("common header is optional", func(t *testing.T) {
		delete(md, MetaCommonHeader)
		call, err := ReadCall(TextMetadata(lookup))
		require.NoError(t, err)
		assert.Nil(t, call.Common)
	})

	t.Run("missing function header", func(t *testing.T) {
		_, err := ReadCall(TextMetadata(func(string) (string, bool) { return "", false }))
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("undecodable function header", func(t *testing.T) {
		md[MetaFunctionHeader] = "***"
		_, err := ReadCall(TextMetadata(lookup))
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})
}

func TestDecodeBinaryValueAcceptsUnpadded(t *testing.T) {
	b, err := DecodeBinaryValue("CAU")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x05}, b)

	b, err = DecodeBinaryValue(EncodeBinaryValue([]byte{0x08, 0x05}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x05}, b)
}
