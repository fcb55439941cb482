// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package grpcsse

import (
	"context"
	"errors"
	"io"

	"github.com/Query-farm/sse-plugin/sse"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls a Connector service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetCapabilities fetches the plugin's capability table.
func (c *Client) GetCapabilities(ctx context.Context) (sse.Capabilities, error) {
	var caps sse.Capabilities
	err := c.cc.Invoke(ctx, MethodGetCapabilities, &Empty{}, &caps, grpc.ForceCodec(Codec{}))
	return caps, err
}

// Result is the outcome of an execute call.
type Result struct {
	Bundles []sse.RowBundle
	Header  metadata.MD
}

// Rows flattens the result bundles.
func (r *Result) Rows() []sse.Row {
	var rows []sse.Row
	for _, b := range r.Bundles {
		rows = append(rows, b...)
	}
	return rows
}

// Execute streams bundles to the function named by h and collects the
// results. Sending and receiving run concurrently.
func (c *Client) Execute(ctx context.Context, h sse.CallHeader, common *sse.CommonHeader, bundles []sse.RowBundle) (*Result, error) {
	kv := []string{sse.MetaFunctionHeader, string(sse.MarshalCallHeader(h))}
	if common != nil {
		kv = append(kv, sse.MetaCommonHeader, string(sse.MarshalCommonHeader(*common)))
	}
	ctx = metadata.AppendToOutgoingContext(ctx, kv...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodExecuteFunction, grpc.ForceCodec(Codec{}))
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := range bundles {
			if err := stream.SendMsg(&bundles[i]); err != nil {
				// The server ended the call; RecvMsg reports why.
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
		return stream.CloseSend()
	})

	res := &Result{}
	var recvErr error
	for {
		var b sse.RowBundle
		if err := stream.RecvMsg(&b); err != nil {
			if err != io.EOF {
				recvErr = err
			}
			break
		}
		res.Bundles = append(res.Bundles, b)
	}
	if md, err := stream.Header(); err == nil {
		res.Header = md
	}
	if recvErr != nil {
		cancel()
		_ = g.Wait()
		return res, recvErr
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}
