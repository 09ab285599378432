// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"

	"adengine/internal/service/ads/domain/port"
)

const (
	lockRoot = "/adengine_locks" // 所有分布式锁的根节点
	seqLen   = 10                // ZooKeeper 顺序节点后缀长度
)

var ErrLockTimeout = errors.New("timeout waiting for lock")

// Connect 建立 ZooKeeper 会话
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect zookeeper: %w", err)
	}
	return conn, nil
}

// DistributedLock 基于临时顺序节点的互斥锁
type DistributedLock struct {
	conn     *zk.Conn
	path     string // 锁的路径，例如 /adengine_locks/ad:123
	lockNode string // 获得锁后自己创建的节点
}

// NewDistributedLock 创建锁对象，并确保锁路径存在
func NewDistributedLock(conn *zk.Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + strings.ReplaceAll(resourceID, "/", "_")
	if err := ensureNode(conn, lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn *zk.Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("check node %s: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create node %s: %w", path, err)
	}
	return nil
}

// Lock 阻塞直到获得锁，ctx 取消或超过 timeout 时放弃并删除自己的节点
func (l *DistributedLock) Lock(ctx context.Context, timeout time.Duration) error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		// protected 节点带 GUID 前缀，必须按序号排序而不是按字符串
		sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })

		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		switch {
		case idx == 0:
			return nil
		case idx < 0:
			l.abandon()
			return errors.New("lock node vanished, session may have expired")
		}

		prevNodePath := l.path + "/" + children[idx-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-deadline.C:
			l.abandon()
			return ErrLockTimeout
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) abandon() {
	if err := l.Unlock(); err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("failed to clean up lock node")
	}
}

func sequence(node string) string {
	if len(node) < seqLen {
		return node
	}
	return node[len(node)-seqLen:]
}

// Locker 用 ZooKeeper 实现按键串行化，供多实例部署的计费使用
type Locker struct {
	conn    *zk.Conn
	timeout time.Duration
}

func NewLocker(conn *zk.Conn, timeout time.Duration) (*Locker, error) {
	if err := ensureNode(conn, lockRoot); err != nil {
		return nil, err
	}
	return &Locker{conn: conn, timeout: timeout}, nil
}

func (z *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := NewDistributedLock(z.conn, key)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx, z.timeout); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, fmt.Errorf("%w: %s", port.ErrLockTimeout, key)
		}
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to release zookeeper lock")
		}
	}, nil
}
