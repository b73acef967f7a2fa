package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/masayosh4/lets-chat/internal/models"
)

// Provider 是文件内容的落盘后端。具体实现在启动时根据配置选定一次，
// 之后不再动态切换。
type Provider interface {
	// Save 写入文件内容。元数据行已先行提交，写入失败时由调用方
	// 负责补偿删除。
	Save(ctx context.Context, file *models.File, r io.Reader) error
	// GetURL 返回文件的访问路径。
	GetURL(file *models.File) string
}

// NewProvider 根据配置名选择后端。
func NewProvider(name, dir string) (Provider, error) {
	switch name {
	case "local":
		return NewLocalProvider(dir)
	case "memory":
		return NewMemoryProvider(), nil
	default:
		return nil, errors.New("unknown file storage provider: " + name)
	}
}

// LocalProvider 把文件内容写到本地目录，按文件 ID 命名。
type LocalProvider struct {
	dir string
}

func NewLocalProvider(dir string) (*LocalProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalProvider{dir: dir}, nil
}

func (p *LocalProvider) path(file *models.File) string {
	return filepath.Join(p.dir, strconv.FormatUint(uint64(file.ID), 10))
}

func (p *LocalProvider) Save(ctx context.Context, file *models.File, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(p.path(file))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p.path(file))
		return err
	}
	return f.Close()
}

func (p *LocalProvider) GetURL(file *models.File) string {
	return file.URL()
}

// MemoryProvider 把内容留在内存里，用于测试。
type MemoryProvider struct {
	mu    sync.Mutex
	blobs map[uint][]byte
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{blobs: make(map[uint][]byte)}
}

func (p *MemoryProvider) Save(ctx context.Context, file *models.File, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.blobs[file.ID] = b
	p.mu.Unlock()
	return nil
}

func (p *MemoryProvider) GetURL(file *models.File) string {
	return file.URL()
}

// Get 读取已保存的内容，仅测试使用。
func (p *MemoryProvider) Get(id uint) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blobs[id]
	return b, ok
}
