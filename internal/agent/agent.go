// Package agent invokes the external reasoning process and implements its
// retry-and-fallback protocol. Prompt construction lives here; what the
// agent decides does not (spec.md §1). The only subprocess-invocation
// precedent found anywhere in the retrieval pack is
// other_examples/580d4060_Dclock24-MSB's GetMarketAnalysis, which shells
// out via exec.Command and parses JSON from stdout — this package
// generalizes that pattern with the spec's retry/backoff/fallback
// protocol and zap structured logging throughout.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/state"
)

// Trigger names why the agent is being invoked; it selects the prompt
// template.
type Trigger string

const (
	TriggerScheduled        Trigger = "scheduled"
	TriggerProfitProtection Trigger = "profit_protection"
	TriggerVIXAlert         Trigger = "vix_alert"
	TriggerDiscovery        Trigger = "discovery"
	TriggerPremarket        Trigger = "premarket"
	TriggerWeekend          Trigger = "weekend"
	TriggerRotation         Trigger = "rotation"
	TriggerDefensive        Trigger = "defensive"
)

// Envelope is the JSON document the agent process prints to stdout on a
// successful (exit code 0) run.
type Envelope struct {
	DurationMs   int64  `json:"duration_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Result       string `json:"result"`
}

// Port invokes the external reasoning process with a constructed prompt.
type Port interface {
	Invoke(ctx context.Context, trigger Trigger, context_ string, prompt string) (Envelope, error)
}

// backoffSchedule is the exponential-ish retry delay sequence, applied
// between retriable failures.
var backoffSchedule = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}

// retriableMarkers are substrings in a failed invocation's combined
// output that mark the failure as transient and worth retrying.
var retriableMarkers = []string{"500", "api_error", "Internal server error", "overloaded"}

// ErrCLINotFound and ErrTimeout are non-retriable failure classes.
var (
	ErrCLINotFound = fmt.Errorf("agent: executable not found")
	ErrTimeout     = fmt.Errorf("agent: invocation timed out")
)

// FallbackFn is invoked when the agent is exhausted and consecutive
// failures reach the fallback threshold. cmd/monitor wires it to the
// Fallback Engine.
type FallbackFn func(ctx context.Context)

// Exec is the real Port implementation: it spawns the configured
// executable as a child process with the prompt as an argument, applies
// a wall-clock timeout, and implements the retry/backoff/fallback
// protocol around it.
type Exec struct {
	Command     string
	AuthEnvName string
	Timeout     time.Duration
	WorkDir     string
	Log         *zap.Logger
	State       *state.Store
	OnExhausted FallbackFn
	FallbackThreshold int

	mu                  sync.Mutex
	consecutiveFailures int
}

// NewExec builds an Exec agent port. timeout defaults to 10 minutes and
// fallbackThreshold to 2 when zero.
func NewExec(command, authEnvName, workDir string, timeout time.Duration, fallbackThreshold int, st *state.Store, log *zap.Logger) *Exec {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if fallbackThreshold <= 0 {
		fallbackThreshold = 2
	}
	return &Exec{
		Command:           command,
		AuthEnvName:       authEnvName,
		Timeout:           timeout,
		WorkDir:           workDir,
		Log:               log.Named("agent"),
		State:             st,
		FallbackThreshold: fallbackThreshold,
	}
}

// ConsecutiveFailures returns the current failure count (for the status
// surface and invariant 6's api_failure_alert.json presence check).
func (e *Exec) ConsecutiveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveFailures
}

func (e *Exec) Invoke(ctx context.Context, trigger Trigger, contextStr string, prompt string) (Envelope, error) {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		env, err := e.invokeOnce(ctx, prompt)
		if err == nil {
			e.recordSuccess(env)
			return env, nil
		}
		lastErr = err
		if !retriable(err) || attempt == len(backoffSchedule) {
			break
		}
		delay := backoffSchedule[attempt]
		e.Log.Warn("agent invocation failed, retrying",
			zap.String("trigger", string(trigger)), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	e.recordExhaustion(ctx, trigger, lastErr)
	return Envelope{}, lastErr
}

func (e *Exec) invokeOnce(ctx context.Context, prompt string) (Envelope, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.Command, prompt)
	cmd.Dir = e.WorkDir
	if e.AuthEnvName != "" {
		if v, ok := os.LookupEnv(e.AuthEnvName); ok {
			cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", e.AuthEnvName, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return Envelope{}, ErrTimeout
	}
	if err != nil {
		var exitErr *exec.Error
		if isExecNotFound(err, &exitErr) {
			return Envelope{}, ErrCLINotFound
		}
		combined := stdout.String() + "\n" + stderr.String()
		return Envelope{}, fmt.Errorf("agent: exit error: %w: %s", err, truncate(combined, 500))
	}

	var env Envelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		return Envelope{}, fmt.Errorf("agent: malformed envelope: %w", err)
	}
	return env, nil
}

func isExecNotFound(err error, target **exec.Error) bool {
	ee, ok := err.(*exec.Error)
	if ok {
		*target = ee
	}
	return ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func retriable(err error) bool {
	if err == ErrTimeout || err == ErrCLINotFound {
		return false
	}
	msg := err.Error()
	for _, marker := range retriableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (e *Exec) recordSuccess(env Envelope) {
	e.mu.Lock()
	e.consecutiveFailures = 0
	e.mu.Unlock()

	if e.State != nil {
		_ = e.State.WriteAtomic("last_agent_response.json", env)
		_ = e.State.Remove(state.AlertAPIFailure)
	}
}

func (e *Exec) recordExhaustion(ctx context.Context, trigger Trigger, cause error) {
	e.mu.Lock()
	e.consecutiveFailures++
	n := e.consecutiveFailures
	e.mu.Unlock()

	e.Log.Error("agent invocation exhausted retries",
		zap.String("trigger", string(trigger)), zap.Int("consecutive_failures", n), zap.Error(cause))

	if e.State != nil {
		alert := state.Alert{
			Timestamp: time.Now(),
			AlertType: "API_FAILURE",
			Status:    state.AlertPending,
			Payload: map[string]any{
				"trigger":              string(trigger),
				"consecutive_failures": n,
				"cause":                cause.Error(),
			},
		}
		_ = e.State.WriteAtomic(state.AlertAPIFailure, alert)
	}

	if e.OnExhausted != nil && n >= e.FallbackThreshold {
		e.OnExhausted(ctx)
	}
}
