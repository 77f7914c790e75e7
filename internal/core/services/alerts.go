package services

import (
	"context"

	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
	"github.com/watchtower-labs/watchtower/internal/logger"
)

// Ensure LogAlertSink implements the interface.
var _ driven.AlertSink = (*LogAlertSink)(nil)

// LogAlertSink is the default degraded-source surface: it logs. Real
// delivery channels (mail, chat, paging) are external collaborators that
// implement driven.AlertSink.
type LogAlertSink struct{}

// SourceDegraded logs the degraded source.
func (LogAlertSink) SourceDegraded(_ context.Context, alert driven.DegradedSource) {
	logger.Error("Source %s degraded: %d consecutive failures, last error: %s",
		alert.SourceID, alert.ConsecutiveFailures, alert.LastError)
}
