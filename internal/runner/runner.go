// Package runner executes pack command sequences against resolved device
// sets through an injected transport.
//
// Devices run in parallel under a bounded worker pool; commands within a
// device run strictly in pack-declared order. Each device is isolated: a
// connection failure, credential failure, or timeout on one device never
// affects its siblings. Results are sorted by hostname before return so
// reports are reproducible regardless of completion order.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opsmith-labs/opsmith-core/internal/credential"
	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
	"github.com/opsmith-labs/opsmith-core/internal/parser"
)

// DefaultConcurrency bounds parallel device sessions when the deployment
// does not configure its own limit. Conservative on purpose: network
// gear tolerates far less parallelism than servers do.
const DefaultConcurrency = 10

// defaultCommandTimeout applies when neither the pack nor the command
// declares one.
const defaultCommandTimeout = 60 * time.Second

// Logger is the minimal logging interface the runner needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner executes packs against devices. Safe for concurrent use.
type Runner struct {
	transport   Transport
	credentials credential.Resolver
	concurrency int64
	logger      Logger

	// sleep is injectable so retry-backoff tests need not wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Runner.
//
// Parameters:
//   - transport: device access collaborator (required)
//   - credentials: secret store resolver (required)
//   - concurrency: parallel device limit; <=0 uses DefaultConcurrency
func New(transport Transport, credentials credential.Resolver, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		transport:   transport,
		credentials: credentials,
		concurrency: int64(concurrency),
		logger:      noopLogger{},
		sleep:       sleepCtx,
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Run executes the pack against every device and returns per-device
// results sorted by hostname. Run itself only fails on a nil pack;
// device-scoped failures are recorded in their results.
func (r *Runner) Run(ctx context.Context, pack *definition.Pack, devices []inventory.Device) ([]DeviceResult, error) {
	if pack == nil {
		return nil, fmt.Errorf("runner: pack is required")
	}
	if len(devices) == 0 {
		return []DeviceResult{}, nil
	}

	sem := semaphore.NewWeighted(r.concurrency)
	results := make([]DeviceResult, len(devices))
	var wg sync.WaitGroup

	for i, device := range devices {
		wg.Add(1)
		go func(idx int, dev inventory.Device) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = cancelledResult(dev, time.Now().UTC())
				return
			}
			defer sem.Release(1)

			results[idx] = r.runDevice(ctx, pack, dev)
		}(i, device)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Hostname < results[j].Hostname
	})
	return results, nil
}

// runDevice executes the full pack against a single device, including
// platform gating, credential resolution, session retries, parsing, and
// validation.
func (r *Runner) runDevice(ctx context.Context, pack *definition.Pack, device inventory.Device) DeviceResult {
	started := time.Now().UTC()
	result := DeviceResult{
		Hostname:  device.Hostname,
		Status:    StatusOK,
		StartedAt: started,
	}

	if !pack.AllowsPlatform(device.Platform) {
		result.Status = StatusExcluded
		result.Error = fmt.Sprintf("platform %q not in pack platforms", device.Platform)
		result.CompletedAt = time.Now().UTC()
		return result
	}

	cred, err := r.credentials.Resolve(ctx, device.CredentialRef)
	if err != nil {
		result.Status = StatusCredentialFailed
		result.Error = credentialError(device.CredentialRef, err)
		result.CompletedAt = time.Now().UTC()
		r.logger.Warn("credential resolution failed",
			"device", device.Hostname,
			"credential_ref", device.CredentialRef,
			"error", err,
		)
		return result
	}

	commands, attempts, sessionErr := r.runSessionWithRetries(ctx, pack, device, cred)
	result.Commands = commands
	result.Attempts = attempts

	if sessionErr != nil {
		result.Status = sessionErr.status
		result.Error = sessionErr.message
	} else {
		for _, cmd := range commands {
			result.Status = worse(result.Status, cmd.Status)
		}
	}

	// Validation runs over the merged fields of every parsed command.
	// A cancelled or unreachable device has nothing meaningful to validate.
	if result.Status != StatusCancelled && result.Status != StatusConnectionFailed && len(pack.Validations) > 0 {
		result.Validations = parser.Validate(mergeFields(commands), pack.Validations)
		for _, o := range result.Validations {
			if !o.Passed {
				result.Status = worse(result.Status, StatusValidationFailed)
				break
			}
		}
	}

	result.CompletedAt = time.Now().UTC()
	r.logger.Debug("device execution complete",
		"device", device.Hostname,
		"status", string(result.Status),
		"commands", len(result.Commands),
		"attempts", result.Attempts,
	)
	return result
}

// sessionFailure is a device-terminal failure from the session loop.
type sessionFailure struct {
	status  Status
	message string
}

// runSessionWithRetries drives the retry loop around executeSession.
// A session is retried only when the pack's error policy says retry for
// the failure class that ended it.
func (r *Runner) runSessionWithRetries(
	ctx context.Context,
	pack *definition.Pack,
	device inventory.Device,
	cred credential.Credential,
) ([]CommandResult, int, *sessionFailure) {
	maxAttempts := 1 + pack.Execution.RetryCount
	var lastCommands []CommandResult
	var lastFailure *sessionFailure

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		commands, failure, retryable := r.executeSession(ctx, pack, device, cred)
		lastCommands = commands
		lastFailure = failure

		if failure == nil || !retryable {
			return commands, attempt, failure
		}
		if attempt == maxAttempts {
			break
		}

		r.logger.Info("retrying device session",
			"device", device.Hostname,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"reason", failure.message,
		)
		if err := r.sleep(ctx, pack.Execution.RetryDelay()); err != nil {
			return lastCommands, attempt, &sessionFailure{
				status:  StatusCancelled,
				message: "cancelled during retry backoff",
			}
		}
	}

	return lastCommands, maxAttempts, lastFailure
}

// executeSession opens one session and runs the pack's commands in order.
// The returned bool reports whether the failure class is retryable under
// the pack's error policy. The session is closed on every path.
func (r *Runner) executeSession(
	ctx context.Context,
	pack *definition.Pack,
	device inventory.Device,
	cred credential.Credential,
) ([]CommandResult, *sessionFailure, bool) {
	if ctx.Err() != nil {
		return nil, &sessionFailure{status: StatusCancelled, message: "cancelled before connect"}, false
	}

	session, err := r.transport.Connect(ctx, device, cred)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &sessionFailure{status: StatusCancelled, message: "cancelled during connect"}, false
		}
		failure := &sessionFailure{
			status:  StatusConnectionFailed,
			message: fmt.Sprintf("connect: %v", err),
		}
		return nil, failure, pack.ErrorPolicy.OnConnectionFailure == definition.ActionRetry
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			r.logger.Warn("closing session", "device", device.Hostname, "error", closeErr)
		}
	}()

	packTimeout := pack.Execution.Timeout()
	if packTimeout <= 0 {
		packTimeout = defaultCommandTimeout
	}

	var results []CommandResult
	for _, spec := range pack.Commands {
		// Cancellation is observed at each command boundary, not only at
		// session start.
		if ctx.Err() != nil {
			return results, &sessionFailure{status: StatusCancelled, message: "cancelled mid-session"}, false
		}

		cmdResult, sendErr := r.runCommand(ctx, session, spec, device, packTimeout)
		results = append(results, cmdResult)

		if sendErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return results, &sessionFailure{status: StatusCancelled, message: "cancelled mid-session"}, false
		}

		switch pack.ErrorPolicy.OnCommandFailure {
		case definition.ActionContinue:
			// Failure recorded; next command runs on the same session.
		case definition.ActionRetry:
			failure := &sessionFailure{
				status:  StatusCommandFailed,
				message: fmt.Sprintf("command %q: %v", spec.Name, sendErr),
			}
			return results, failure, true
		default: // ActionFail and unset
			failure := &sessionFailure{
				status:  StatusCommandFailed,
				message: fmt.Sprintf("command %q: %v", spec.Name, sendErr),
			}
			return results, failure, false
		}
	}

	return results, nil, false
}

// runCommand renders, sends, and parses one command. The returned error is
// non-nil only for send failures; parse failures are terminal for the
// command but not for the session.
func (r *Runner) runCommand(
	ctx context.Context,
	session Session,
	spec definition.CommandSpec,
	device inventory.Device,
	packTimeout time.Duration,
) (CommandResult, error) {
	rendered := RenderCommand(spec.Command, device)
	result := CommandResult{
		Name:    spec.Name,
		Command: rendered,
		Status:  StatusOK,
	}

	started := time.Now()
	output, err := session.Send(ctx, rendered, spec.Timeout(packTimeout))
	result.Duration = time.Since(started)

	if err != nil {
		result.Status = StatusCommandFailed
		if errors.Is(err, ErrTimeout) {
			result.Error = fmt.Sprintf("timeout after %s", spec.Timeout(packTimeout))
		} else {
			result.Error = err.Error()
		}
		return result, err
	}

	result.RawOutput = output
	fields, parseErr := parser.Parse(spec.Parser, spec.Pattern, output)
	if parseErr != nil {
		result.Status = StatusParseFailed
		result.Error = parseErr.Error()
		return result, nil
	}
	result.Fields = fields
	return result, nil
}

// RenderCommand substitutes the supported device placeholders into a
// command template.
func RenderCommand(command string, device inventory.Device) string {
	replacer := strings.NewReplacer(
		"{{ hostname }}", device.Hostname,
		"{{hostname}}", device.Hostname,
		"{{ management_ip }}", device.ManagementIP,
		"{{management_ip}}", device.ManagementIP,
	)
	return replacer.Replace(command)
}

// mergeFields flattens parsed fields across commands; later commands win
// on key collisions, matching declaration order.
func mergeFields(commands []CommandResult) parser.Fields {
	merged := make(parser.Fields)
	for _, cmd := range commands {
		for k, v := range cmd.Fields {
			merged[k] = v
		}
	}
	return merged
}

// credentialError maps resolver errors to reportable reasons.
func credentialError(ref string, err error) string {
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return fmt.Sprintf("credential %q not found", ref)
	case errors.Is(err, credential.ErrAccessDenied):
		return fmt.Sprintf("credential %q access denied", ref)
	default:
		return fmt.Sprintf("credential %q: %v", ref, err)
	}
}

// cancelledResult builds a result for a device whose worker never started.
func cancelledResult(device inventory.Device, now time.Time) DeviceResult {
	return DeviceResult{
		Hostname:    device.Hostname,
		Status:      StatusCancelled,
		Error:       "cancelled before execution",
		StartedAt:   now,
		CompletedAt: now,
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
