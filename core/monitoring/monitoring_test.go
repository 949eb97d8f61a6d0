package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	errs    []error
	panics  []any
	tags    []map[string]string
	flushes int
}

func (r *recorder) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func (r *recorder) CapturePanic(v any, tags map[string]string) {
	r.panics = append(r.panics, v)
	r.tags = append(r.tags, tags)
}

func (r *recorder) Flush(time.Duration) { r.flushes++ }

func TestGlobalMonitor(t *testing.T) {
	r := &recorder{}
	Init(r)
	t.Cleanup(func() { Init(nil) })

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"module": "store"})
	CapturePanic(nil, nil)
	CapturePanic("bad", nil)
	Flush(time.Second)

	assert.Len(t, r.errs, 1)
	assert.Equal(t, []any{"bad"}, r.panics)
	assert.Equal(t, "store", r.tags[0]["module"])
	assert.Equal(t, 1, r.flushes)
}

func TestInitNilRestoresNop(t *testing.T) {
	r := &recorder{}
	Init(r)
	Init(nil)
	CaptureException(errors.New("dropped"), nil)
	assert.Empty(t, r.errs)
}
