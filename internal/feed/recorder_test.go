package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedObject struct {
	key         string
	data        []byte
	contentType string
	multipart   bool
}

type fakeBlobWriter struct {
	mu      sync.Mutex
	err     error
	objects []capturedObject
}

func (w *fakeBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.objects = append(w.objects, capturedObject{key: path, data: body, contentType: contentType})
	w.mu.Unlock()
	return nil
}

func (w *fakeBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.objects = append(w.objects, capturedObject{key: path, data: body, multipart: true})
	w.mu.Unlock()
	return nil
}

func (w *fakeBlobWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.objects)
}

func (w *fakeBlobWriter) object(i int) capturedObject {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.objects[i]
}

func TestRecorderFlushesBufferedFrames(t *testing.T) {
	writer := &fakeBlobWriter{}
	rec := NewRecorder(writer, "quotes", 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec.Record([]byte(`{"t":"trading.quote","body":{"securityId":"sb26493","currentPrice":"12.5"}}`))
	rec.Record([]byte(`{"t":"trading.quote","body":{"securityId":"sb26493","currentPrice":"12.6"}}`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return writer.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	obj := writer.object(0)
	assert.True(t, strings.HasPrefix(obj.key, "quotes/"))
	assert.True(t, strings.HasSuffix(obj.key, ".ndjson"))
	assert.False(t, obj.multipart)
	assert.Equal(t, "application/x-ndjson", obj.contentType)

	lines := strings.Split(strings.TrimRight(string(obj.data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"currentPrice":"12.5"`)
	assert.Contains(t, lines[1], `"currentPrice":"12.6"`)
}

func TestRecorderFinalFlushOnShutdown(t *testing.T) {
	writer := &fakeBlobWriter{}
	// Interval far beyond the test runtime: only the shutdown flush can fire.
	rec := NewRecorder(writer, "quotes", time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec.Record([]byte(`{"t":"trading.quote"}`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, writer.count())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, writer.count())
}

func TestRecorderSkipsEmptyFlush(t *testing.T) {
	writer := &fakeBlobWriter{}
	rec := NewRecorder(writer, "quotes", 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec.Run(ctx)

	assert.Equal(t, 0, writer.count())
}

func TestRecorderUsesMultipartForLargeBatches(t *testing.T) {
	writer := &fakeBlobWriter{}
	rec := NewRecorder(writer, "quotes", time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	frame := []byte(strings.Repeat("x", 1024*1024))
	for i := 0; i < 9; i++ {
		rec.Record(frame)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	require.Equal(t, 1, writer.count())
	assert.True(t, writer.object(0).multipart)
}

func TestRecorderToleratesWriteFailure(t *testing.T) {
	writer := &fakeBlobWriter{err: errors.New("bucket gone")}
	rec := NewRecorder(writer, "quotes", time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec.Record([]byte(`{"t":"trading.quote"}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, 0, writer.count())

	// The failed batch is dropped, not retried.
	writer.err = nil
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	rec.Run(ctx2)
	assert.Equal(t, 0, writer.count())
}
