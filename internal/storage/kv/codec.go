package kv

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"

	"github.com/bytedance/sonic"
)

// ReadJSON 读取 key 并解码到 v。
// 键不存在或内容损坏时返回 (false, nil)，且不修改 v；其他读取错误原样返回。
func ReadJSON(ctx context.Context, store Store, key string, v any) (bool, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}

	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return false, fmt.Errorf("decode %s: target must be a non-nil pointer", key)
	}

	// 先解码到临时值，避免半解析状态污染调用方。
	tmp := reflect.New(target.Elem().Type())
	if err := sonic.ConfigStd.Unmarshal(data, tmp.Interface()); err != nil {
		log.Printf("[kv] 解析 %s 失败，按空值处理: %v", key, err)
		return false, nil
	}
	target.Elem().Set(tmp.Elem())
	return true, nil
}

// LoadJSON is ReadJSON for callers that treat every failure as empty.
func LoadJSON(ctx context.Context, store Store, key string, v any) bool {
	ok, err := ReadJSON(ctx, store, key, v)
	if err != nil {
		log.Printf("[kv] 读取 %s 失败: %v", key, err)
	}
	return ok
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, store Store, key string, v any) error {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
