package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.AddIterations(15)
	r.AddIterations(5)
	r.AddIterations(-3)
	r.MajorCycleDone()
	r.MinorCycleDone()
	r.MinorCycleDone()
	r.SetPeakResidual(0.05)
	r.SetCycleThreshold(0.1)
	r.SetModelFlux(0.95)
	r.ObserveSync("gather", 10*time.Millisecond, nil)
	r.ObserveSync("gather", time.Millisecond, errors.New("rank 1 timed out"))
	r.StateChanged("Converged")

	assert.Equal(t, 20.0, testutil.ToFloat64(r.iterations))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.majorCycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.minorCycles))
	assert.Equal(t, 0.05, testutil.ToFloat64(r.peakResidual))
	assert.Equal(t, 0.1, testutil.ToFloat64(r.cycleThreshold))
	assert.Equal(t, 0.95, testutil.ToFloat64(r.modelFlux))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.syncFailures.WithLabelValues("gather")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stateChanges.WithLabelValues("Converged")))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 9, count)
}

func TestRecorder_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	assert.Error(t, err)
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.AddIterations(1)
		r.MajorCycleDone()
		r.MinorCycleDone()
		r.SetPeakResidual(1)
		r.SetCycleThreshold(1)
		r.SetModelFlux(1)
		r.ObserveSync("scatter", time.Second, nil)
		r.StateChanged("Stopped")
	})
}
