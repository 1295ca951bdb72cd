package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"whisperd/internal/config"
	"whisperd/internal/preflight"
	"whisperd/internal/server"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dependency, directory, and server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			checkCtx := cmd.Context()

			fmt.Fprintln(out, renderSectionHeader("Configuration", colorize))
			configPath := ctx.configPath
			if !ctx.configSeen {
				configPath += " (not found; defaults in use)"
			}
			fmt.Fprintln(out, renderStatusLine("Config", statusInfo, configPath, colorize))
			fmt.Fprintln(out, renderStatusLine("Device", statusInfo, fmt.Sprintf("%s (%s)", cfg.Device(), cfg.ComputeType()), colorize))
			fmt.Fprintln(out, renderStatusLine("Model", statusInfo, cfg.Transcription.Model, colorize))
			fmt.Fprintln(out, renderStatusLine("Alignment", statusInfo,
				fmt.Sprintf("%s, %d languages", cfg.Alignment.Strategy, len(cfg.Alignment.Languages)), colorize))

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
			for _, dep := range preflight.CheckSystemDeps(checkCtx, cfg) {
				kind := statusOK
				detail := strings.TrimSpace(dep.Detail + " " + dep.Command)
				if !dep.Available {
					kind = statusError
					if dep.Optional {
						kind = statusWarn
					}
					detail = dep.Detail
				}
				fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Checks", colorize))
			for _, result := range preflight.RunAll(checkCtx, cfg) {
				if result.Name == "API bind" {
					continue
				}
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Server", colorize))
			kind, detail := serverStatus(checkCtx, cfg)
			fmt.Fprintln(out, renderStatusLine("API", kind, detail, colorize))
			return nil
		},
	}
}

// serverStatus asks a running serve process for its health.
func serverStatus(ctx context.Context, cfg *config.Config) (statusKind, string) {
	host, port, err := net.SplitHostPort(cfg.Paths.APIBind)
	if err != nil {
		return statusError, fmt.Sprintf("invalid api_bind %q", cfg.Paths.APIBind)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, port) + "/health-check"

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return statusError, err.Error()
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return statusInfo, fmt.Sprintf("not running on %s", cfg.Paths.APIBind)
	}
	defer resp.Body.Close()

	var health server.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&health); err != nil {
		return statusWarn, fmt.Sprintf("%s answered with an unexpected body (%d)", cfg.Paths.APIBind, resp.StatusCode)
	}
	switch health.Status {
	case server.StateReady:
		return statusOK, fmt.Sprintf("%s on %s (alignment loaded: %d)", health.Status, cfg.Paths.APIBind, len(health.Setup.AlignLanguages))
	case server.StateSetupFailed:
		return statusError, fmt.Sprintf("%s: %s", health.Status, health.Error)
	default:
		return statusWarn, fmt.Sprintf("%s on %s", health.Status, cfg.Paths.APIBind)
	}
}
