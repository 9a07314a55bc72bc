package monitoring

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logging"
	"github.com/core-tools/hsu-apphost/pkg/processstate"
)

type HealthCheckType string

const (
	HealthCheckTypeGRPC    HealthCheckType = "grpc"
	HealthCheckTypeTCP     HealthCheckType = "tcp"
	HealthCheckTypeExec    HealthCheckType = "exec"
	HealthCheckTypeProcess HealthCheckType = "process"
)

type GRPCHealthCheckConfig struct {
	// Service name sent in the health request; empty checks the whole server
	Service string `yaml:"service,omitempty"`
}

type ExecHealthCheckConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	GRPC GRPCHealthCheckConfig `yaml:"grpc,omitempty"`
	Exec ExecHealthCheckConfig `yaml:"exec,omitempty"`

	RunOptions HealthCheckRunOptions `yaml:"run_options,omitempty"`
}

type HealthCheckRunOptions struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
}

// Enabled reports whether a probe type is configured
func (c HealthCheckConfig) Enabled() bool {
	return c.Type != ""
}

func DefaultHealthCheckRunOptions() HealthCheckRunOptions {
	return HealthCheckRunOptions{
		Interval: 200 * time.Millisecond,
		Timeout:  150 * time.Millisecond,
	}
}

type HealthCheckStatus string

const (
	HealthCheckStatusUnknown   HealthCheckStatus = "unknown"
	HealthCheckStatusHealthy   HealthCheckStatus = "healthy"
	HealthCheckStatusDegraded  HealthCheckStatus = "degraded"
	HealthCheckStatusUnhealthy HealthCheckStatus = "unhealthy"
)

type HealthCheckState struct {
	Status               HealthCheckStatus
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	Checks               int
}

// Target is what a probe checks: the dialable address of the application
// and the PID of its process
type Target struct {
	Address string
	PID     int
}

// Prober confirms that an application that reported readiness actually serves
type Prober struct {
	config HealthCheckConfig
	id     string
	logger logging.Logger

	mutex sync.Mutex
	state HealthCheckState
}

func NewProber(config HealthCheckConfig, id string, logger logging.Logger) (*Prober, error) {
	if config.RunOptions == (HealthCheckRunOptions{}) {
		config.RunOptions = DefaultHealthCheckRunOptions()
	}
	if err := ValidateHealthCheckConfig(config); err != nil {
		return nil, errors.NewValidationError("invalid health check configuration", err).WithContext("id", id)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Prober{
		config: config,
		id:     id,
		logger: logger,
		state:  HealthCheckState{Status: HealthCheckStatusUnknown},
	}, nil
}

func (p *Prober) State() HealthCheckState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

// WaitHealthy checks target every interval until it passes or ctx ends
func (p *Prober) WaitHealthy(ctx context.Context, target Target) error {
	p.logger.Debugf("Waiting for health check, id: %s, type: %s, target: %+v", p.id, p.config.Type, target)

	if p.config.RunOptions.InitialDelay > 0 {
		select {
		case <-time.After(p.config.RunOptions.InitialDelay):
		case <-ctx.Done():
			return p.waitError(ctx)
		}
	}

	ticker := time.NewTicker(p.config.RunOptions.Interval)
	defer ticker.Stop()

	for {
		if healthy, _ := p.Check(ctx, target); healthy {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return p.waitError(ctx)
		}
	}
}

func (p *Prober) waitError(ctx context.Context) error {
	state := p.State()
	return errors.NewTimeoutError("health check did not pass", ctx.Err()).
		WithContext("id", p.id).
		WithContext("type", string(p.config.Type)).
		WithContext("checks", state.Checks).
		WithContext("last_message", state.Message)
}

// Check runs a single probe and records its outcome
func (p *Prober) Check(ctx context.Context, target Target) (bool, string) {
	checkCtx, cancel := context.WithTimeout(ctx, p.config.RunOptions.Timeout)
	defer cancel()

	var healthy bool
	var message string

	switch p.config.Type {
	case HealthCheckTypeGRPC:
		healthy, message = p.checkGRPC(checkCtx, target)
	case HealthCheckTypeTCP:
		healthy, message = p.checkTCP(checkCtx, target)
	case HealthCheckTypeExec:
		healthy, message = p.checkExec(checkCtx)
	case HealthCheckTypeProcess:
		healthy, message = p.checkProcess(target)
	default:
		message = "Unknown health check type: " + string(p.config.Type)
	}

	p.updateState(healthy, message)
	return healthy, message
}

func (p *Prober) updateState(healthy bool, message string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.state.Checks++
	p.state.LastCheck = time.Now()
	p.state.Message = message
	previous := p.state.Status

	if healthy {
		p.state.ConsecutiveSuccesses++
		p.state.ConsecutiveFailures = 0
		p.state.Status = HealthCheckStatusHealthy
		if previous != HealthCheckStatusHealthy {
			p.logger.Infof("Health check passed, id: %s, after checks: %d", p.id, p.state.Checks)
		}
		return
	}

	p.state.ConsecutiveFailures++
	p.state.ConsecutiveSuccesses = 0
	if p.state.ConsecutiveFailures == 1 {
		p.state.Status = HealthCheckStatusDegraded
	} else {
		p.state.Status = HealthCheckStatusUnhealthy
	}
	p.logger.Debugf("Health check failed, id: %s, consecutive_failures: %d, message: %s",
		p.id, p.state.ConsecutiveFailures, message)
}

func (p *Prober) checkGRPC(ctx context.Context, target Target) (bool, string) {
	conn, err := grpc.DialContext(ctx, target.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, fmt.Sprintf("gRPC dial failed: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: p.config.GRPC.Service,
	})
	if err != nil {
		return false, fmt.Sprintf("gRPC health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Sprintf("gRPC service %q is %s", p.config.GRPC.Service, resp.GetStatus())
	}
	return true, fmt.Sprintf("gRPC service %q serving at %s", p.config.GRPC.Service, target.Address)
}

func (p *Prober) checkTCP(ctx context.Context, target Target) (bool, string) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	conn.Close()
	return true, fmt.Sprintf("TCP connection successful to %s", target.Address)
}

func (p *Prober) checkExec(ctx context.Context) (bool, string) {
	cmd := exec.CommandContext(ctx, p.config.Exec.Command, p.config.Exec.Args...)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return false, fmt.Sprintf("Exec health check timed out after %v", p.config.RunOptions.Timeout)
	}
	if err != nil {
		return false, fmt.Sprintf("Exec health check failed: %v, output: %s", err, string(output))
	}
	return true, fmt.Sprintf("Exec health check passed, output: %s", string(output))
}

func (p *Prober) checkProcess(target Target) (bool, string) {
	running, err := processstate.IsProcessRunning(target.PID)
	if err != nil {
		return false, fmt.Sprintf("Process check failed: PID %d: %v", target.PID, err)
	}
	if !running {
		return false, fmt.Sprintf("Process not running: PID %d", target.PID)
	}
	return true, fmt.Sprintf("Process is running: PID %d", target.PID)
}
