package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ChunkProcessed()
	r.FragmentEmitted()
	r.FragmentSkipped(ReasonTooShort)
	r.CacheResult("hit")
	r.ReferenceSelected("matched")
	r.OracleRequest("vad", nil, time.Second)
	assert.NoError(t, r.WriteFile("/nonexistent/metrics.prom"))
}

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ChunkProcessed()
	r.ChunkProcessed()
	r.FragmentSkipped(ReasonTooShort)
	r.FragmentSkipped(ReasonEmbeddingError)
	r.FragmentSkipped(ReasonTooShort)
	r.OracleRequest("vad", errors.New("boom"), 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ChunksProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.FragmentsSkipped.WithLabelValues(ReasonTooShort)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OracleRequests.WithLabelValues("vad", "error")))
}

func TestWriteFile(t *testing.T) {
	r := New()
	r.FragmentEmitted()
	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, r.WriteFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "voiceline_fragments_emitted_total 1"))
}
