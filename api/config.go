// Package api provides the keepsake HTTP API: conversation reads and
// writes, lifecycle operations, attachment rehydration, recall, metrics
// and the MCP endpoint.
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/keepsake/pkg/exchange"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/rehydrate"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// Orchestrator serves every session route. Required.
	Orchestrator *orchestrator.Orchestrator

	// Exchange answers messages. Without one the messages route is not
	// mounted.
	Exchange *exchange.Exchange

	// Resolver serves attachments. Without one the attachments route is
	// not mounted.
	Resolver *rehydrate.Resolver

	// Gatherer is exposed on /metrics when set.
	Gatherer prometheus.Gatherer

	// MCP is mounted on /mcp when set.
	MCP http.Handler

	Logger *slog.Logger
}
