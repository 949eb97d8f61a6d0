package learner

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wattbudget/core/model"
)

func newLearner() *Learner { return New(Config{}, nil) }

func TestTemperatureBucket(t *testing.T) {
	cases := map[float64]int{0: 0, 0.9: 0, 1.1: 2, -3.2: -4, 4.99: 4, 5.1: 6, -0.4: 0}
	for in, want := range cases {
		assert.Equal(t, want, TemperatureBucket(in), "temp %v", in)
	}
}

func TestBlendRunningAverage(t *testing.T) {
	l := newLearner()
	l.Import(Tables{Idle: map[int]model.ConsumptionSample{4: {Consumption: 10, Counter: 5}}})

	require.NoError(t, l.RecordIdleSample(4, 11, 0))
	s, ok := l.Sample(4)
	require.True(t, ok)
	assert.InDelta(t, 10.17, s.Consumption, 1e-9)
	assert.Equal(t, 6, s.Counter)
}

func TestRejectOutlier(t *testing.T) {
	l := newLearner()
	l.Import(Tables{Idle: map[int]model.ConsumptionSample{4: {Consumption: 10, Counter: 5}}})

	err := l.RecordIdleSample(4, 50, 0)
	assert.ErrorIs(t, err, ErrSampleRejected)
	s, _ := l.Sample(4)
	assert.Equal(t, model.ConsumptionSample{Consumption: 10, Counter: 5}, s)

	err = l.RecordIdleSample(4, 3, 0)
	assert.ErrorIs(t, err, ErrSampleRejected, "deviation applies downwards too")
}

func TestOutlierAcceptedWhileBucketYoung(t *testing.T) {
	l := newLearner()
	require.NoError(t, l.RecordIdleSample(10, 500, 0))
	require.NoError(t, l.RecordIdleSample(10, 5000, 0))
	s, _ := l.Sample(10)
	assert.Equal(t, 2, s.Counter)
	assert.InDelta(t, 2750, s.Consumption, 1e-9)
}

func TestCounterResets(t *testing.T) {
	l := newLearner()
	l.Import(Tables{Idle: map[int]model.ConsumptionSample{0: {Consumption: 1000, Counter: 100}}})
	require.NoError(t, l.RecordIdleSample(0, 1000, 0))
	s, _ := l.Sample(0)
	assert.Equal(t, 10, s.Counter)
	assert.InDelta(t, 1000, s.Consumption, 1e-9)
}

func TestSeedFromNeighbor(t *testing.T) {
	l := newLearner()
	l.Import(Tables{Idle: map[int]model.ConsumptionSample{
		6: {Consumption: 1000, HeaterConsumption: 400, HasHeater: true, Counter: 8},
	}})

	require.NoError(t, l.RecordIdleSample(10, 1200, 600))
	s, ok := l.Sample(10)
	require.True(t, ok)
	assert.Equal(t, 2, s.Counter)
	assert.InDelta(t, 1100, s.Consumption, 1e-9)
	assert.InDelta(t, 500, s.HeaterConsumption, 1e-9)

	// too far from the neighbour: fresh bucket
	require.NoError(t, l.RecordIdleSample(20, 900, 0))
	s, _ = l.Sample(20)
	assert.Equal(t, 1, s.Counter)
	assert.InDelta(t, 900, s.Consumption, 1e-9)

	// neighbour within tolerance but the sample deviates: fresh bucket
	require.NoError(t, l.RecordIdleSample(4, 9000, 0))
	s, _ = l.Sample(4)
	assert.Equal(t, 1, s.Counter)
}

func TestInvalidSamplesDropped(t *testing.T) {
	l := newLearner()
	assert.ErrorIs(t, l.RecordIdleSample(math.NaN(), 100, 0), ErrInvalidSample)
	assert.ErrorIs(t, l.RecordIdleSample(3, -1, 0), ErrInvalidSample)
	assert.ErrorIs(t, l.RecordIdleSample(3, math.Inf(1), 0), ErrInvalidSample)
	assert.ErrorIs(t, l.RecordHeaterRecoverySample(0, 3, 1), ErrInvalidSample)
	assert.Empty(t, l.Export().Idle)
	assert.Empty(t, l.Export().Recovery)
}

func TestForecast(t *testing.T) {
	l := newLearner()
	_, _, ok := l.Forecast(5)
	assert.False(t, ok)
	idle, heater := l.ForecastOrDefault(5)
	assert.Equal(t, DefaultIdleWatts, idle)
	assert.Zero(t, heater)

	require.NoError(t, l.RecordIdleSample(-10, 800, 3000))
	require.NoError(t, l.RecordIdleSample(10, 600, 200))

	idle, heater, ok = l.Forecast(-7)
	require.True(t, ok)
	assert.Equal(t, 800.0, idle)
	assert.Equal(t, 3000.0, heater)

	idle, _, _ = l.Forecast(25)
	assert.Equal(t, 600.0, idle)
}

func TestHeaterRecovery(t *testing.T) {
	l := newLearner()
	_, ok := l.HeaterRecovery(time.Hour, 0)
	assert.False(t, ok)

	require.NoError(t, l.RecordHeaterRecoverySample(62*time.Minute, 0, 2.0))
	require.NoError(t, l.RecordHeaterRecoverySample(58*time.Minute, 0.5, 2.2))
	kwh, ok := l.HeaterRecovery(time.Hour, 0)
	require.True(t, ok)
	assert.InDelta(t, 2.1, kwh, 1e-9)

	// nearest duration bucket is used when the exact one is unknown
	kwh, ok = l.HeaterRecovery(3*time.Hour, -2)
	require.True(t, ok)
	assert.InDelta(t, 2.1, kwh, 1e-9)

	// a new duration bucket seeds from the closest established one
	require.NoError(t, l.RecordHeaterRecoverySample(90*time.Minute, 0, 2.9))
	kwh, _ = l.HeaterRecovery(90*time.Minute, 0)
	assert.InDelta(t, 2.5, kwh, 1e-9)

	assert.ErrorIs(t, l.RecordHeaterRecoverySample(time.Hour, 0, 20), ErrSampleRejected)
}

func TestExportImportRoundTrip(t *testing.T) {
	l := newLearner()
	require.NoError(t, l.RecordIdleSample(2, 700, 100))
	require.NoError(t, l.RecordHeaterRecoverySample(time.Hour, 2, 1.5))

	other := newLearner()
	other.Import(l.Export())
	assert.Equal(t, l.Export(), other.Export())

	// exported tables are copies
	tables := other.Export()
	tables.Idle[2] = model.ConsumptionSample{Consumption: 1}
	s, _ := other.Sample(2)
	assert.Equal(t, 700.0, s.Consumption)
}
