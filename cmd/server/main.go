// Farm advisory agent server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/SidGoyal2014/gah-final-submission/internal/probe"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		port    string
	)
	root := &cobra.Command{
		Use:           "advisor",
		Short:         "Farm advisory streaming agent",
		Long:          `Serves per-farmer advisory sessions over WebSocket, routing questions to market, scheme, tutorial and search capabilities.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			if err := godotenv.Load(envFile); err != nil {
				logger.Info("No .env file found, using environment variables", "path", envFile)
			}
			if err := serve(cmd.Context(), logger, port); err != nil {
				logger.Error("Server failed", "error", err)
				return err
			}
			return nil
		},
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.Flags().StringVar(&port, "port", "", "HTTP port (overrides PORT)")
	root.AddCommand(newHealthcheckCmd())
	return root
}

func newHealthcheckCmd() *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the gRPC health service of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			status, err := probe.CheckRemote(ctx, addr, service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service %q is %s", service, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "gRPC health server address")
	cmd.Flags().StringVar(&service, "service", probe.ServiceName, "health service name")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall timeout")
	return cmd
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
