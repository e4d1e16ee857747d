package domain

import "context"

// DurableStore 跨进程重启保存数据的键值存储，仅按键寻址
type DurableStore interface {
	// Get 读取记录，不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 整体覆盖写入
	Set(ctx context.Context, key string, value []byte) error
	// Delete 删除记录，不存在时不报错
	Delete(ctx context.Context, key string) error
	// Ping 连通性检查
	Ping(ctx context.Context) error
}
