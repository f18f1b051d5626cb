package safe

import (
	"context"
	"io"
	"log/slog"

	"github.com/secmon-lab/simplemem/pkg/utils/logging"
)

// Close closes c and logs a failure. A nil closer is ignored.
func Close(ctx context.Context, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.Any("error", err))
	}
}

// Write writes data to w and logs a failure. Used after the response header
// is committed, when nothing else can be done with the error.
func Write(ctx context.Context, w io.Writer, data []byte) {
	if w == nil {
		return
	}
	if _, err := w.Write(data); err != nil {
		logging.From(ctx).Error("Failed to write", slog.Any("error", err))
	}
}
