// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client 封装 go-redis UniversalClient，并按名字管理 Lua 脚本。
// 单个地址时是普通客户端，多个地址时是集群客户端，脚本的 key 需要使用 hash tag。
type Client struct {
	rdb     redis.UniversalClient
	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

func NewClient(addrs []string, password string) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis: no address configured")
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})
	return &Client{rdb: rdb, scripts: make(map[string]*redis.Script)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// LoadScriptFromContent 注册脚本并预加载到服务端
func (c *Client) LoadScriptFromContent(name, src string) error {
	script := redis.NewScript(src)
	if err := script.Load(context.Background(), c.rdb).Err(); err != nil {
		return fmt.Errorf("load script %s: %w", name, err)
	}
	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本；服务端缓存丢失时 Run 会自动回退到 EVAL
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %s not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
