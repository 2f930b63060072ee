// Command mockupstream serves deterministic river-level fixtures for local runs.
//
// Usage:
//
//	go run ./cmd/mockupstream -addr :8090 -fail-districts 3,7
//
// then point the service at it:
//
//	UPSTREAM_BASE_URL=http://localhost:8090/api
//	UPSTREAM_CAMERA_URL=http://localhost:8090/cameras
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/mockupstream"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mockupstream failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8090", "listen address")
	failDistricts := flag.String("fail-districts", "", "comma-separated district ids that answer 503")
	flag.Parse()

	failing, err := parseIDs(*failDistricts)
	if err != nil {
		return err
	}

	handler := mockupstream.NewHandler(mockupstream.DefaultFixture(), failing...)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("mock upstream listening", "addr", *addr,
		"base_url", "http://localhost"+*addr+mockupstream.BasePath,
		"camera_url", "http://localhost"+*addr+mockupstream.CameraPath,
		"failing_districts", failing)
	return srv.ListenAndServe()
}

func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid district id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
