// Command exporter publishes container metadata for the compose stack so the
// Grafana dashboards can join router metrics with container state.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var containerMeta = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "container_meta_info",
		Help: "Container metadata info",
	},
	[]string{"id", "name", "image", "com_docker_compose_service", "state", "full_id"},
)

func init() {
	prometheus.MustRegister(containerMeta)
}

func collect(ctx context.Context) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		slog.Error("docker client init failed", slog.Any("error", err))
		return
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		slog.Error("container list failed", slog.Any("error", err))
		return
	}

	// Reset so containers that disappeared drop out of the metric.
	containerMeta.Reset()

	for _, c := range containers {
		fullID := c.ID
		shortID := fullID
		if len(fullID) > 12 {
			shortID = fullID[:12]
		}
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		service := c.Labels["com.docker.compose.service"]
		if service == "" {
			service = name
		}
		containerMeta.WithLabelValues(shortID, name, c.Image, service, c.State, fullID).Set(1)
	}
}

func main() {
	interval := 15 * time.Second
	if v := os.Getenv("EXPORTER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}
	addr := ":" + getenv("EXPORTER_PORT", "8000")

	go func() {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			collect(ctx)
			cancel()
			time.Sleep(interval)
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	slog.Info("container meta exporter listening", slog.String("addr", addr))
	srv := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("exporter stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func getenv(k, def string) string { if v := os.Getenv(k); v != "" { return v }; return def }
