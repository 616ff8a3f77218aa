package ollama

import (
	"context"
	"os/exec"

	"github.com/codefionn/chatrelay/internal/logger"
	"github.com/codefionn/chatrelay/internal/retry"
)

// Runner brings the backend up and reports readiness. It deliberately does
// not supervise the spawned process: a locally installed Ollama daemonizes
// itself and outlives the relay.
type Runner struct {
	client    *Client
	policy    retry.Policy
	autostart bool

	startCommand func() error
}

// NewRunner creates a runner probing through client. policy bounds how
// long readiness is awaited. When autostart is false the runner only
// waits, never spawns.
func NewRunner(client *Client, policy retry.Policy, autostart bool) *Runner {
	return &Runner{
		client:    client,
		policy:    policy,
		autostart: autostart,
		startCommand: func() error {
			return exec.Command("ollama", "serve").Start()
		},
	}
}

// IsReady reports whether the backend currently answers requests.
func (r *Runner) IsReady(ctx context.Context) bool {
	return r.client.Ping(ctx)
}

// EnsureStarted makes sure the backend is reachable, spawning `ollama
// serve` if permitted and polling under the retry policy. It returns false
// when the backend cannot be brought up within the attempt budget.
func (r *Runner) EnsureStarted(ctx context.Context) bool {
	if r.IsReady(ctx) {
		return true
	}

	if r.autostart {
		logger.Info("Ollama is not running, attempting to start it")
		if err := r.startCommand(); err != nil {
			logger.Error("Failed to spawn ollama serve: %v", err)
			// Fall through: another process may be starting it.
		}
	}

	err := r.policy.Do(ctx, func() error {
		if r.IsReady(ctx) {
			return nil
		}
		return ErrUnavailable
	})
	if err != nil {
		logger.Error("Ollama did not become ready: %v", err)
		return false
	}

	logger.Info("Ollama is ready")
	return true
}
