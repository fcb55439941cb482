// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Query-farm/sse-plugin/internal/config"
	"github.com/Query-farm/sse-plugin/sse"
	"github.com/Query-farm/sse-plugin/sse/grpcsse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gopkg.in/yaml.v3"
)

func addCommands(root *cobra.Command, opts *options) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Connector gRPC service",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return runServe(cmd, opts) }}
	cmd.Flags().Int("port", 0, "gRPC port (overrides grpc.port)")
	cmd.Flags().String("cert-dir", "", "folder with root_cert.pem, sse_server_cert.pem and sse_server_key.pem")
	cmd.Flags().Bool("with-http", false, "also serve the HTTP transport on http.addr")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "http",
		Short: "Serve the HTTP transport",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return runHTTP(cmd, opts) }}
	cmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "stdio",
		Short: "Serve Arrow IPC requests on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return runStdio(opts) }}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "unix path",
		Short: "Serve Arrow IPC requests on a unix socket",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runUnix(cmd, opts, args[0]) }}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "describe",
		Short: "Print the capability table as YAML",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return runDescribe(cmd, opts) }}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "probe address",
		Short: "Fetch the capability table of a running gRPC plugin",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runProbe(cmd, args[0]) }}
	cmd.Flags().Duration("timeout", 5*time.Second, "call timeout")
	root.AddCommand(cmd)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, opts *options) error {
	cfg := opts.cfg
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.GRPC.Port = port
	}
	if dir, _ := cmd.Flags().GetString("cert-dir"); dir != "" {
		cfg.GRPC.CertDir = dir
	}
	withHTTP, _ := cmd.Flags().GetBool("with-http")

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	reg := prometheus.NewRegistry()
	engine, err := buildEngine(cfg, reg)
	if err != nil {
		return err
	}

	var serverOpts []grpc.ServerOption
	if cfg.GRPC.CertDir != "" {
		creds, err := loadServerTLS(cfg.GRPC.CertDir)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
		slog.Info("mutual TLS enabled", "cert_dir", cfg.GRPC.CertDir)
	} else {
		slog.Warn("serving without TLS")
	}
	grpcServer := grpcsse.NewGRPCServer(engine, serverOpts...)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.GRPC.Addr(), err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("grpc: listening", "addr", lis.Addr().String(), "server_id", engine.ServerID())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcServer.GracefulStop()
		return nil
	})
	if withHTTP {
		serveHTTP(ctx, g, cfg.HTTP.Addr, newHttpHandler(cfg, engine))
	}
	if cfg.Metrics.Addr != "" {
		serveHTTP(ctx, g, cfg.Metrics.Addr, metricsHandler(reg))
	}
	return g.Wait()
}

func runHTTP(cmd *cobra.Command, opts *options) error {
	cfg := opts.cfg
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	reg := prometheus.NewRegistry()
	engine, err := buildEngine(cfg, reg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	serveHTTP(ctx, g, cfg.HTTP.Addr, newHttpHandler(cfg, engine))
	if cfg.Metrics.Addr != "" {
		serveHTTP(ctx, g, cfg.Metrics.Addr, metricsHandler(reg))
	}
	return g.Wait()
}

func newHttpHandler(cfg config.Config, engine *sse.Engine) http.Handler {
	return sse.NewHttpServer(engine,
		sse.WithPrefix(cfg.HTTP.Prefix),
		sse.WithRateLimit(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst),
		sse.WithCompressionLevel(cfg.HTTP.CompressionLevel),
	)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// serveHTTP runs an http.Server in g until ctx is done.
func serveHTTP(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		slog.Info("http: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve on %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func runStdio(opts *options) error {
	engine, err := buildEngine(opts.cfg, nil)
	if err != nil {
		return err
	}
	sse.NewServer(engine).RunStdio()
	return nil
}

func runUnix(cmd *cobra.Command, opts *options, path string) error {
	engine, err := buildEngine(opts.cfg, nil)
	if err != nil {
		return err
	}
	_ = os.Remove(path)
	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listening on unix socket %s: %w", path, err)
	}
	defer os.Remove(path)

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	slog.Info("ipc: listening", "path", path)
	server := sse.NewServer(engine)
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			server.ServeWithContext(ctx, conn, conn)
		}()
	}
}

func runDescribe(cmd *cobra.Command, opts *options) error {
	engine, err := buildEngine(opts.cfg, nil)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(engine.Describe())
}

func runProbe(cmd *cobra.Command, addr string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	caps, err := grpcsse.NewClient(conn).GetCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("probing %s: %w", addr, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (scripts: %t)\n", caps.PluginIdentifier, caps.PluginVersion, caps.AllowScript)
	for _, f := range caps.Functions {
		fmt.Fprintf(out, "  %3d  %-20s %-12s -> %s\n", f.ID, f.Name, f.Kind.WireType(), f.ReturnType)
	}
	return nil
}
