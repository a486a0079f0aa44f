package checkpoint

import (
	"context"
	"log"
)

// BestEffort wraps a Store so persistence failures never fail a run.
// Errors are logged and swallowed; reads still report their errors since
// callers of reads need to know.
type BestEffort struct {
	Inner  Store
	Logger *log.Logger

	// OnFailure is invoked once per swallowed write failure; the server
	// points it at a metrics counter. May be nil.
	OnFailure func()
}

func NewBestEffort(inner Store, logger *log.Logger) *BestEffort {
	return &BestEffort{Inner: inner, Logger: logger}
}

func (b *BestEffort) failed() {
	if b.OnFailure != nil {
		b.OnFailure()
	}
}

func (b *BestEffort) Put(ctx context.Context, ns, thread, key string, value []byte) error {
	if err := b.Inner.Put(ctx, ns, thread, key, value); err != nil {
		b.failed()
		b.Logger.Printf("checkpoint put failed (ns=%s thread=%s key=%s): %v", ns, thread, key, err)
	}
	return nil
}

func (b *BestEffort) Get(ctx context.Context, ns, thread, key string) ([]byte, bool, error) {
	return b.Inner.Get(ctx, ns, thread, key)
}

func (b *BestEffort) Append(ctx context.Context, ns, thread string, value []byte) (int64, error) {
	n, err := b.Inner.Append(ctx, ns, thread, value)
	if err != nil {
		b.failed()
		b.Logger.Printf("checkpoint append failed (ns=%s thread=%s): %v", ns, thread, err)
		return 0, nil
	}
	return n, nil
}

func (b *BestEffort) NextCursor(ctx context.Context, ns, thread string) (int64, error) {
	n, err := b.Inner.NextCursor(ctx, ns, thread)
	if err != nil {
		b.failed()
		b.Logger.Printf("checkpoint cursor failed (ns=%s thread=%s): %v", ns, thread, err)
		return 0, nil
	}
	return n, nil
}

func (b *BestEffort) ReadLog(ctx context.Context, ns, thread string, from, to int64) ([][]byte, error) {
	return b.Inner.ReadLog(ctx, ns, thread, from, to)
}

func (b *BestEffort) Delete(ctx context.Context, thread string) error {
	if err := b.Inner.Delete(ctx, thread); err != nil {
		b.failed()
		b.Logger.Printf("checkpoint delete failed (thread=%s): %v", thread, err)
	}
	return nil
}

func (b *BestEffort) Close() error { return b.Inner.Close() }
