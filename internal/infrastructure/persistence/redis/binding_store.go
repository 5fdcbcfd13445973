package redis

import (
	"context"
)

const bindingKeyPrefix = "letter:binding:"

// BindingStore 目标与后端文档 ID 的绑定，进程重启后仍然有效
type BindingStore struct {
	client *Client
}

// NewBindingStore 创建绑定存储
func NewBindingStore(client *Client) *BindingStore {
	return &BindingStore{client: client}
}

// Get 读取绑定
func (s *BindingStore) Get(ctx context.Context, targetID string) (string, bool, error) {
	id, err := s.client.Get(ctx, bindingKeyPrefix+targetID)
	if err != nil {
		if IsNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, id != "", nil
}

// Set 写入绑定，不过期
func (s *BindingStore) Set(ctx context.Context, targetID, documentID string) error {
	return s.client.Set(ctx, bindingKeyPrefix+targetID, documentID, 0)
}

// Delete 删除绑定
func (s *BindingStore) Delete(ctx context.Context, targetID string) error {
	return s.client.Del(ctx, bindingKeyPrefix+targetID)
}
