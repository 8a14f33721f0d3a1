package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// epochData is the persisted shape of one EpochData entry.
type epochData struct {
	Value uint32
}

func load[T any](ctx context.Context, s Storage, key []byte) (T, bool, error) {
	var v T
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return v, false, fmt.Errorf("read %s: %w", describeKey(key), err)
	}
	if !ok {
		return v, false, nil
	}
	if err := rlp.DecodeBytes(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", describeKey(key), err)
	}
	return v, true, nil
}

// mustLoad treats a missing entry as an uninitialized contract.
func mustLoad[T any](ctx context.Context, s Storage, key []byte) (T, error) {
	v, ok, err := load[T](ctx, s, key)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, ErrNotInitialized
	}
	return v, nil
}

func put(ctx context.Context, s Storage, key []byte, v any) error {
	raw, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", describeKey(key), err)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", describeKey(key), err)
	}
	return nil
}

func describeKey(key []byte) string {
	if epoch, ok := ParseEpochDataKey(key); ok {
		return fmt.Sprintf("EpochData(%d)", epoch)
	}
	if len(key) == 1 {
		return DataKey(key[0]).String()
	}
	return fmt.Sprintf("key %x", key)
}
