package audit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/synrgscaling/federation-gateway/internal/ids"
	"github.com/synrgscaling/federation-gateway/internal/obs"
)

// Recorder captures records off the response path. Enqueueing never blocks:
// when the buffer is full the record is dropped and counted. Capture is
// at most once; blocking every query on a durable audit write would push
// tail latency onto the common allowed path.
type Recorder struct {
	store Store
	log   zerolog.Logger
	ch    chan Record
	done  chan struct{}
}

// NewRecorder starts the single drain goroutine.
func NewRecorder(store Store, bufferSize int, log zerolog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		store: store,
		log:   log,
		ch:    make(chan Record, bufferSize),
		done:  make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues one attempt and returns the assigned record id. Failure
// to persist is logged, never surfaced: audit capture must not fail the
// original request.
func (r *Recorder) Record(rec Record) string {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Operation == "" {
		rec.Operation = OpCrossTenantQuery
	}
	select {
	case r.ch <- rec:
	default:
		obs.ObserveAuditDrop()
		r.log.Error().Str("audit_id", rec.ID).Msg("audit buffer full, record dropped")
	}
	return rec.ID
}

func (r *Recorder) drain() {
	defer close(r.done)
	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.Insert(ctx, &rec)
		cancel()
		if err != nil {
			obs.ObserveAuditDrop()
			r.log.Error().Err(err).Str("audit_id", rec.ID).Msg("audit write failed")
		}
	}
}

// Close stops intake and waits for the buffer to flush or the context to
// expire.
func (r *Recorder) Close(ctx context.Context) error {
	close(r.ch)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return errors.New("audit: recorder shutdown timed out")
	}
}
