// Package storage はアップロードファイルと成果物を置くローカル作業ディレクトリを管理します。
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Local はルートディレクトリ配下に作業ディレクトリを作成し、保持期間経過後に削除します。
type Local struct {
	root string
	ttl  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewLocal は Local を作成します。ttl が 0 以下の場合は自動削除しません。
func NewLocal(root string, ttl time.Duration) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return &Local{
		root:   abs,
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Root はルートディレクトリを返します。
func (l *Local) Root() string {
	return l.root
}

// CreateDir は prefix で始まる一意なディレクトリを作成します。
func (l *Local) CreateDir(prefix string) (string, error) {
	if prefix == "" {
		prefix = "work"
	}
	dir, err := os.MkdirTemp(l.root, prefix+"-*")
	if err != nil {
		return "", fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return dir, nil
}

// Remove はディレクトリを削除します。ルート外のパスは拒否します。
func (l *Local) Remove(dir string) error {
	if dir == "" {
		return nil
	}
	if !l.contains(dir) {
		return fmt.Errorf("refusing to remove %s outside of %s", dir, l.root)
	}

	l.mu.Lock()
	if t, ok := l.timers[dir]; ok {
		t.Stop()
		delete(l.timers, dir)
	}
	l.mu.Unlock()

	return os.RemoveAll(dir)
}

// Expire は保持期間経過後にディレクトリを削除するよう予約します。
func (l *Local) Expire(dir string) {
	if l.ttl <= 0 || dir == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[dir]; ok {
		t.Stop()
	}
	l.timers[dir] = time.AfterFunc(l.ttl, func() {
		_ = l.Remove(dir)
	})
}

func (l *Local) contains(dir string) bool {
	rel, err := filepath.Rel(l.root, dir)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
