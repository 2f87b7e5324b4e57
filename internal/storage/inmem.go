package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/coffersTech/loghell/internal/model"
)

// InMem keeps every entry in a map. Nothing survives the process.
type InMem struct {
	lock  sync.RWMutex
	data  map[model.Key][]byte
	order []model.Key // insertion order, so List replays entries as they arrived
}

// NewInMem creates an empty in-memory backend.
func NewInMem() *InMem {
	return &InMem{
		data: make(map[model.Key][]byte),
	}
}

// Write stores a copy of data under key.
func (i *InMem) Write(_ context.Context, key model.Key, data []byte) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	if _, ok := i.data[key]; !ok {
		i.order = append(i.order, key)
	}
	i.data[key] = slices.Clone(data)
	return nil
}

// Read returns the entry stored under key.
func (i *InMem) Read(_ context.Context, key model.Key) ([]byte, error) {
	i.lock.RLock()
	defer i.lock.RUnlock()
	data, ok := i.data[key]
	if !ok {
		return nil, &OpError{Op: "read", Key: key, Err: ErrNotFound}
	}
	return slices.Clone(data), nil
}

// Delete removes key.
func (i *InMem) Delete(_ context.Context, key model.Key) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	if _, ok := i.data[key]; !ok {
		return &OpError{Op: "delete", Key: key, Err: ErrNotFound}
	}
	delete(i.data, key)
	if idx := slices.Index(i.order, key); idx >= 0 {
		i.order = slices.Delete(i.order, idx, idx+1)
	}
	return nil
}

// List calls fn for every entry in insertion order.
func (i *InMem) List(ctx context.Context, fn func(model.Key, []byte) error) error {
	i.lock.RLock()
	keys := slices.Clone(i.order)
	i.lock.RUnlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := i.Read(ctx, key)
		if err != nil {
			// Deleted after the snapshot was taken.
			continue
		}
		if err := fn(key, data); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored entries.
func (i *InMem) Len() int {
	i.lock.RLock()
	defer i.lock.RUnlock()
	return len(i.data)
}

// Close is a no-op.
func (i *InMem) Close() error { return nil }
