// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package grpcsse

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Query-farm/sse-plugin/functions"
	"github.com/Query-farm/sse-plugin/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, opts ...sse.Option) (*Client, *grpc.ClientConn) {
	t.Helper()
	engine, err := functions.Register(functions.DefaultInfo, functions.Config{}, opts...)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(engine)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), conn
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func numbers(vs ...float64) sse.RowBundle {
	b := make(sse.RowBundle, len(vs))
	for i, v := range vs {
		b[i] = sse.Row{sse.Number(v)}
	}
	return b
}

func TestGetCapabilities(t *testing.T) {
	client, _ := startServer(t)
	caps, err := client.GetCapabilities(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, "Go SSE plugin", caps.PluginIdentifier)
	assert.Equal(t, "1.0.0", caps.PluginVersion)
	assert.False(t, caps.AllowScript)
	require.Len(t, caps.Functions, 11)
	assert.Equal(t, "Add42", caps.Functions[0].Name)
	assert.Equal(t, int32(0), caps.Functions[0].ID)
	assert.Equal(t, sse.KindReduce, caps.Functions[functions.IDSumOfAllNumbers].Kind)
	assert.Equal(t, []sse.Parameter{
		{Name: "DateString", Type: sse.StringType},
		{Name: "CultureString", Type: sse.StringType},
	}, caps.Functions[functions.IDSmartGuessDate].Params)
	assert.Equal(t, sse.DualData, caps.Functions[functions.IDSmartGuessDate].ReturnType)
}

func TestExecuteFunction(t *testing.T) {
	client, _ := startServer(t)
	ctx := testContext(t)

	res, err := client.Execute(ctx, sse.CallHeader{FunctionID: functions.IDAdd42}, nil,
		[]sse.RowBundle{numbers(1, 2), numbers(3)})
	require.NoError(t, err)
	assert.Equal(t, []sse.RowBundle{numbers(43, 44), numbers(45)}, res.Bundles)

	res, err = client.Execute(ctx, sse.CallHeader{FunctionID: functions.IDSumOfAllNumbers},
		&sse.CommonHeader{AppID: "app", UserID: "user", Cardinality: 3},
		[]sse.RowBundle{numbers(1), numbers(2, 3.5)})
	require.NoError(t, err)
	assert.Equal(t, []sse.Row{{sse.Number(6.5)}}, res.Rows())

	res, err = client.Execute(ctx, sse.CallHeader{FunctionID: functions.IDSmartGuessDate}, nil,
		[]sse.RowBundle{{{sse.String("24.12.2023"), sse.String("Deutsch")}}})
	require.NoError(t, err)
	assert.Equal(t, []sse.Row{{{Num: 45284, Str: "2023-12-24"}}}, res.Rows())
}

func TestExecuteNoCacheHeader(t *testing.T) {
	client, _ := startServer(t)
	res, err := client.Execute(testContext(t), sse.CallHeader{FunctionID: functions.IDCallCounterNoCache}, nil,
		[]sse.RowBundle{{{{}}}})
	require.NoError(t, err)
	assert.Equal(t, []sse.Row{{sse.Number(1)}}, res.Rows())
	assert.Equal(t, []string{sse.CacheNoStore}, res.Header.Get(sse.MetaCache))

	res, err = client.Execute(testContext(t), sse.CallHeader{FunctionID: functions.IDCallCounter}, nil,
		[]sse.RowBundle{{{{}}}})
	require.NoError(t, err)
	assert.Equal(t, []sse.Row{{sse.Number(2)}}, res.Rows())
	assert.Empty(t, res.Header.Get(sse.MetaCache))
}

func TestExecuteErrors(t *testing.T) {
	client, conn := startServer(t)
	ctx := testContext(t)

	t.Run("unknown function", func(t *testing.T) {
		_, err := client.Execute(ctx, sse.CallHeader{FunctionID: 99}, nil, []sse.RowBundle{numbers(1)})
		assert.Equal(t, codes.Unimplemented, status.Code(err))
	})

	t.Run("width mismatch", func(t *testing.T) {
		_, err := client.Execute(ctx, sse.CallHeader{FunctionID: functions.IDAdd42}, nil,
			[]sse.RowBundle{{{sse.Number(1), sse.Number(2)}}})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("missing header", func(t *testing.T) {
		stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], MethodExecuteFunction, grpc.ForceCodec(Codec{}))
		require.NoError(t, err)
		require.NoError(t, stream.CloseSend())
		var b sse.RowBundle
		err = stream.RecvMsg(&b)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("undecodable header", func(t *testing.T) {
		md := metadata.Pairs(sse.MetaFunctionHeader, string([]byte{0xff}))
		stream, err := conn.NewStream(metadata.NewOutgoingContext(ctx, md),
			&ServiceDesc.Streams[0], MethodExecuteFunction, grpc.ForceCodec(Codec{}))
		require.NoError(t, err)
		require.NoError(t, stream.CloseSend())
		var b sse.RowBundle
		err = stream.RecvMsg(&b)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("script evaluation", func(t *testing.T) {
		stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[1], MethodEvaluateScript, grpc.ForceCodec(Codec{}))
		require.NoError(t, err)
		require.NoError(t, stream.CloseSend())
		var b sse.RowBundle
		err = stream.RecvMsg(&b)
		assert.Equal(t, codes.Unimplemented, status.Code(err))
	})
}

func TestCodecBundle(t *testing.T) {
	in := sse.RowBundle{
		{sse.Number(1.5), sse.String("a")},
		{{Num: -2, Str: "-2"}, {}},
		{},
	}
	data, err := Codec{}.Marshal(&in)
	require.NoError(t, err)

	var out sse.RowBundle
	require.NoError(t, Codec{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestCodecCapabilities(t *testing.T) {
	in := sse.Capabilities{
		PluginIdentifier: "p",
		PluginVersion:    "1",
		Functions: []sse.FunctionDescriptor{
			{ID: 0, Name: "A", Kind: sse.KindRowMap, ReturnType: sse.Numeric, Params: []sse.Parameter{{Name: "x", Type: sse.Numeric}}},
			{ID: 7, Name: "B", Kind: sse.KindReduce, ReturnType: sse.StringType, Params: []sse.Parameter{{Name: "s", Type: sse.StringType}}},
		},
	}
	data, err := Codec{}.Marshal(&in)
	require.NoError(t, err)

	var out sse.Capabilities
	require.NoError(t, Codec{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestCodecRejectsUnknownTypes(t *testing.T) {
	_, err := Codec{}.Marshal("nope")
	assert.Error(t, err)
	assert.Error(t, Codec{}.Unmarshal(nil, new(int)))

	var b sse.RowBundle
	err = Codec{}.Unmarshal([]byte{0x0a, 0x05, 0x01}, &b)
	assert.ErrorIs(t, err, sse.ErrProtocolViolation)
}
