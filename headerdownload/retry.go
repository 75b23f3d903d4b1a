package headerdownload

import (
	"time"

	"github.com/glyphchain/hdsync/internal/log"
	"github.com/glyphchain/hdsync/internal/metrics"
)

var (
	headerTimeoutMeter = metrics.NewRegisteredMeter("headerdownload/headers/timeout")
	retryLog           = log.New("headerdownload/retry")
)

// RetryStage periodically scans Waiting slices and resets any whose deadline
// has elapsed back to Empty. request_attempt is preserved across the reset so
// persistent failure can eventually be detected by FetchStage.
type RetryStage struct {
	window  *SliceWindow
	timeout time.Duration
}

// NewRetryStage constructs a RetryStage using the package's RequestTimeout.
func NewRetryStage(window *SliceWindow) *RetryStage {
	return &RetryStage{window: window, timeout: RequestTimeout}
}

// Run resets every Waiting slice whose request has timed out.
func (r *RetryStage) Run() {
	now := time.Now()
	for _, slice := range r.window.FindBatchByStatus(Waiting, r.window.MaxSlices()) {
		if !slice.isExpired(now, r.timeout) {
			continue
		}
		headerTimeoutMeter.Mark(1)
		retryLog.Debug("request timed out, resetting to empty", "start", slice.StartBlockNum())
		r.window.SetStatus(slice, Empty, slice.resetToEmpty)
	}
}
