// Package panel serves the operator dashboard, a single static page that
// drives the HTTP API and follows the WebSocket event stream.
//
// The page is embedded in the binary with go:embed. Setting api.panel_dir
// serves it from disk instead.
package panel
