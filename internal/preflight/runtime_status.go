package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"whisperd/internal/config"
)

// CheckAPIBind verifies the API address can be bound. An address already in
// use usually means another whisperd serve is running.
func CheckAPIBind(ctx context.Context, bind string) Result {
	const name = "API bind"

	bind = strings.TrimSpace(bind)
	if bind == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", bind)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (in use)", bind)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", bind, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", bind)}
}

// CheckHFToken reports whether a Hugging Face token is configured. Only gated
// alignment models need one, so a missing token still passes.
func CheckHFToken(cfg *config.Config) Result {
	const name = "Hugging Face token"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Engine.HFToken) == "" {
		return Result{Name: name, Passed: true, Detail: "Not set (public models only)"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}
