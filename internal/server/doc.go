// Package server exposes the prediction API over HTTP.
//
// The server starts listening before models are loaded: setup runs in the
// background and GET /health-check reports SETTING_UP, READY, or
// SETUP_FAILED. POST /predictions returns 503 until setup succeeds.
package server
