package monitoring

import "github.com/core-tools/hsu-apphost/pkg/errors"

// ValidateHealthCheckConfig validates health check configuration
func ValidateHealthCheckConfig(config HealthCheckConfig) error {
	if err := ValidateHealthCheckRunOptions(config.RunOptions); err != nil {
		return errors.NewValidationError("invalid health check run options", err)
	}

	switch config.Type {
	case HealthCheckTypeGRPC, HealthCheckTypeTCP, HealthCheckTypeProcess:
		// the address and PID come from the running application

	case HealthCheckTypeExec:
		if config.Exec.Command == "" {
			return errors.NewValidationError("command is required for exec health check", nil)
		}

	default:
		return errors.NewValidationError("unsupported health check type: "+string(config.Type), nil)
	}

	return nil
}

// ValidateHealthCheckRunOptions validates health check run options
func ValidateHealthCheckRunOptions(options HealthCheckRunOptions) error {
	if options.Interval <= 0 {
		return errors.NewValidationError("health check interval must be positive", nil)
	}

	if options.Timeout <= 0 {
		return errors.NewValidationError("health check timeout must be positive", nil)
	}

	if options.Timeout > options.Interval {
		return errors.NewValidationError("health check timeout cannot exceed interval", nil)
	}

	if options.InitialDelay < 0 {
		return errors.NewValidationError("initial delay cannot be negative", nil)
	}

	return nil
}
