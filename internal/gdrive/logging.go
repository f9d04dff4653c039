package gdrive

import (
	"context"
	"log/slog"
	"time"
)

// Lister is the list surface consumed by the enumerator. Client implements
// it; LoggingLister decorates it.
type Lister interface {
	ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error)
}

// LoggingLister wraps a Lister with per-call instrumentation: folder id,
// page continuation, result count, duration, and error. Keeping this as an
// explicit decorator keeps instrumentation orthogonal to the client's
// request logic.
type LoggingLister struct {
	next   Lister
	logger *slog.Logger
}

// WithLogging decorates lister with call logging.
func WithLogging(lister Lister, logger *slog.Logger) *LoggingLister {
	return &LoggingLister{next: lister, logger: logger}
}

func (l *LoggingLister) ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error) {
	start := time.Now()

	page, err := l.next.ListChildren(ctx, folderID, pageToken)
	if err != nil {
		l.logger.Warn("list children failed",
			slog.String("folder_id", folderID),
			slog.Bool("continuation", pageToken != ""),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	l.logger.Debug("list children",
		slog.String("folder_id", folderID),
		slog.Bool("continuation", pageToken != ""),
		slog.Int("entries", len(page.Entries)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return page, nil
}
