package dmarket

import (
	"context"
	"encoding/json"
	"log/slog"
)

// SchemaDriftHandler is invoked when an upstream response no longer matches
// any known shape. endpoint names the logical endpoint ("balance"), raw is
// the offending payload.
type SchemaDriftHandler func(ctx context.Context, endpoint string, raw json.RawMessage, err error)

// reportSchemaDrift logs an unparseable response at error level and fans it
// out to the client's configured handler. Parsing failures are survivable
// (the raw payload still flows to the caller) but they mean the shape tables
// need an update, so the alert is loud.
func (c *Client) reportSchemaDrift(ctx context.Context, endpoint string, raw json.RawMessage, err error) {
	preview := string(raw)
	if len(preview) > 512 {
		preview = preview[:512] + "..."
	}
	c.log.Error("upstream schema drift detected",
		slog.String("endpoint", endpoint),
		slog.String("error", err.Error()),
		slog.String("payload", preview))

	if c.onDrift != nil {
		c.onDrift(ctx, endpoint, raw, err)
	}
}
