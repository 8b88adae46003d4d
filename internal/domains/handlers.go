// Package domains holds the job handlers this worker binary ships
// with. Applications embedding the framework register their own
// handlers instead.
package domains

import (
	"context"
	"encoding/json"

	"github.com/wsqyouth/sqsflow/internal/adapter"
	"github.com/wsqyouth/sqsflow/pkg/logger"
)

// EchoJob is a diagnostic job that logs its own payload.
type EchoJob struct {
	Message string `json:"message"`
}

// Register installs the built-in handlers.
func Register(registry *adapter.Registry, log logger.Logger) error {
	return registry.Register("echo", adapter.HandlerFunc(func(ctx context.Context, payload []byte) error {
		var job EchoJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return err
		}
		log.Infof(ctx, "[echo] %s", job.Message)
		return nil
	}))
}
