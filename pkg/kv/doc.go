// Package kv is the byte-oriented key-value contract behind the service
// cache, with an in-memory implementation and a Redis adapter.
//
//	store := memory.New(30 * time.Second)
//	defer store.Close()
//
//	_ = store.Set(ctx, "tb:history:BTCUSDT", payload, time.Minute)
//	data, err := store.Get(ctx, "tb:history:BTCUSDT")
//	if errors.Is(err, kv.ErrNotFound) {
//		// refetch
//	}
package kv
