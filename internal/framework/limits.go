package framework

import (
	"time"

	"github.com/wsqyouth/sqsflow/pkg/errorutil"
)

// Backend request limits, validated before any client call.
const (
	// MaxReceiveBatch is the most messages one receive call may return.
	MaxReceiveBatch = 10
	// MaxBatchEntries is the most entries one batch send/delete may carry.
	MaxBatchEntries = 10
	// MaxMessageSize is the largest single message payload in bytes.
	MaxMessageSize = 256 * 1024
	// MaxBatchPayload is the largest combined batch payload in bytes.
	MaxBatchPayload = 1024 * 1024
	// MaxSendDelay is the longest supported delivery delay.
	MaxSendDelay = 900 * time.Second
	// MaxVisibilityTimeout is the backend's visibility cap (12 hours).
	MaxVisibilityTimeout = 43200 * time.Second
)

// ValidateSend checks a single send against the backend limits.
func ValidateSend(body []byte, opts SendOptions) error {
	if len(body) > MaxMessageSize {
		return errorutil.Configf("message size %d exceeds limit %d", len(body), MaxMessageSize)
	}
	if opts.Delay > MaxSendDelay {
		return errorutil.Configf("send delay %s exceeds limit %s", opts.Delay, MaxSendDelay)
	}
	return nil
}

// ValidateSendBatch checks a batch send against the backend limits.
func ValidateSendBatch(entries []SendEntry) error {
	if len(entries) == 0 {
		return errorutil.Configf("batch send requires at least one entry")
	}
	if len(entries) > MaxBatchEntries {
		return errorutil.Configf("batch size %d exceeds limit %d", len(entries), MaxBatchEntries)
	}
	total := 0
	for _, e := range entries {
		if len(e.Body) > MaxMessageSize {
			return errorutil.Configf("batch entry %q size %d exceeds limit %d", e.ID, len(e.Body), MaxMessageSize)
		}
		if e.Delay > MaxSendDelay {
			return errorutil.Configf("batch entry %q delay %s exceeds limit %s", e.ID, e.Delay, MaxSendDelay)
		}
		total += len(e.Body)
	}
	if total > MaxBatchPayload {
		return errorutil.Configf("batch payload %d exceeds limit %d", total, MaxBatchPayload)
	}
	return nil
}

// ValidateDeleteBatch checks a batch delete against the backend limits.
func ValidateDeleteBatch(receipts []string) error {
	if len(receipts) == 0 {
		return errorutil.Configf("batch delete requires at least one receipt")
	}
	if len(receipts) > MaxBatchEntries {
		return errorutil.Configf("batch delete size %d exceeds limit %d", len(receipts), MaxBatchEntries)
	}
	return nil
}

// ClampVisibility caps a visibility change to the backend limit.
func ClampVisibility(d time.Duration) time.Duration {
	if d > MaxVisibilityTimeout {
		return MaxVisibilityTimeout
	}
	if d < 0 {
		return 0
	}
	return d
}
