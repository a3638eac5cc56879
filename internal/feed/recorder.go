package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quintic/buxbot/internal/domain"
)

const (
	// multipartThreshold: batches larger than this upload via the multipart
	// manager instead of a single PutObject.
	multipartThreshold = 8 * 1024 * 1024

	multipartPartSize = 5 * 1024 * 1024
)

// Recorder captures raw subscription frames and flushes them to blob
// storage as newline-delimited JSON objects, one object per flush, keyed by
// capture hour: {prefix}/2006/01/02/buxbot-150405.ndjson.
type Recorder struct {
	writer   domain.BlobWriter
	prefix   string
	interval time.Duration
	logger   *slog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
	n   int
}

// NewRecorder creates a recorder flushing every interval. A non-positive
// interval defaults to one minute.
func NewRecorder(writer domain.BlobWriter, prefix string, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Recorder{
		writer:   writer,
		prefix:   prefix,
		interval: interval,
		logger:   logger.With(slog.String("component", "quote_recorder")),
	}
}

// Record buffers one raw frame. Safe for concurrent use; intended as the
// feed's raw-frame tap.
func (r *Recorder) Record(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(frame)
	r.buf.WriteByte('\n')
	r.n++
}

// Run flushes on a ticker until ctx is cancelled, then performs a final
// flush so buffered frames are not lost on shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if r.n == 0 {
		r.mu.Unlock()
		return
	}
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	count := r.n
	r.buf.Reset()
	r.n = 0
	r.mu.Unlock()

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s/buxbot-%s.ndjson",
		r.prefix, now.Format("2006/01/02"), now.Format("150405"))

	var err error
	if len(data) > multipartThreshold {
		err = r.writer.PutMultipart(ctx, key, bytes.NewReader(data), multipartPartSize)
	} else {
		err = r.writer.Put(ctx, key, bytes.NewReader(data), "application/x-ndjson")
	}
	if err != nil {
		// Capture is best effort; the frames in this batch are gone.
		r.logger.Error("quote capture flush failed",
			slog.String("key", key),
			slog.Int("frames", count),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.Debug("quote capture flushed",
		slog.String("key", key),
		slog.Int("frames", count),
	)
}
