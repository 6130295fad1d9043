package metrics

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpUpload, 10*time.Millisecond)
	c.RecordTiming(OpUpload, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.Upload)
	assert.Equal(t, int64(2), snap.Upload.Count)
	assert.Equal(t, int64(40), snap.Upload.TotalTimeMs)
	assert.Equal(t, 20.0, snap.Upload.AvgTimeMs)
	assert.Equal(t, int64(10), snap.Upload.MinTimeMs)
	assert.Equal(t, int64(30), snap.Upload.MaxTimeMs)
	assert.Nil(t, snap.Normalize, "stages without data are omitted")
}

func TestTimeReturnsError(t *testing.T) {
	c := NewCollector()
	want := errors.New("boom")
	err := c.Time(OpClassify, func() error { return want })
	assert.ErrorIs(t, err, want)
	assert.Equal(t, int64(1), c.Snapshot().Classify.Count)
}

func TestCountersConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc(CountProcessed)
			c.Inc(CountFailed)
			c.RecordTiming(OpFinalize, time.Millisecond)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Processed)
	assert.Equal(t, int64(50), snap.Failed)
	assert.Equal(t, int64(50), snap.Finalize.Count)
	assert.Zero(t, snap.Stuck)
}

func TestSnapshotLogValue(t *testing.T) {
	c := NewCollector()
	c.Inc(CountProcessed)
	c.RecordTiming(OpUpload, 5*time.Millisecond)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("stats", "pipeline", c.Snapshot())

	out := buf.String()
	assert.Contains(t, out, "pipeline.processed=1")
	assert.Contains(t, out, "pipeline.upload.count=1")
	assert.NotContains(t, out, "pipeline.classify")
}
