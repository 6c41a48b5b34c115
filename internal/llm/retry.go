package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrAllAttemptsFailed is returned when every retry produced unusable output.
var ErrAllAttemptsFailed = errors.New("all generation attempts failed")

// RetryPolicy retries a model call with a decreasing temperature schedule
// until the validator accepts the output. Malformed structured output is the
// common failure mode; lowering temperature makes later attempts more literal.
type RetryPolicy struct {
	Temperatures []float64
	Backoff      time.Duration
}

// DefaultRetryPolicy matches the pipeline-wide schedule: three attempts at
// 0.2, 0.1 and 0.0.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Temperatures: []float64{0.2, 0.1, 0.0},
		Backoff:      500 * time.Millisecond,
	}
}

// Generate runs the call-validate loop. The validator receives raw model
// output and returns an error to trigger another attempt.
func (p RetryPolicy) Generate(
	ctx context.Context,
	client Client,
	prompt string,
	opts GenerateOptions,
	validate func(content string) error,
	logger *zap.Logger,
) (string, error) {
	if client == nil {
		return "", fmt.Errorf("%w: no client configured", ErrAllAttemptsFailed)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	temperatures := p.Temperatures
	if len(temperatures) == 0 {
		temperatures = []float64{opts.Temperature}
	}

	var lastErr error
	for attempt, temperature := range temperatures {
		if attempt > 0 && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		callOpts := opts
		callOpts.Temperature = temperature
		content, err := client.Generate(ctx, prompt, callOpts)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", err
			}
			logger.Warn("generation attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Float64("temperature", temperature),
				zap.Error(err),
			)
			continue
		}
		if validate != nil {
			if err := validate(content); err != nil {
				lastErr = err
				logger.Warn("generation output rejected",
					zap.Int("attempt", attempt+1),
					zap.Float64("temperature", temperature),
					zap.Error(err),
				)
				continue
			}
		}
		return content, nil
	}
	return "", fmt.Errorf("%w: %v", ErrAllAttemptsFailed, lastErr)
}
