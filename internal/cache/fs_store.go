package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store 管理 <StoragePath>/cache 目录：路径计算、状态判断、访问时间与读租约。
// 文件内容本身不加锁，追加写 + 按游标读依赖文件系统语义。
type Store struct {
	basePath string
	now      func() time.Time

	mu     sync.Mutex
	leases map[string]int
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("cache path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache path: %w", err)
	}

	return &Store{
		basePath: abs,
		now:      time.Now,
		leases:   make(map[string]int),
	}, nil
}

// Root 返回缓存目录的绝对路径。
func (s *Store) Root() string {
	return s.basePath
}

// Entry 计算 URL 对应的 final/temp 路径。
func (s *Store) Entry(rawURL string) Entry {
	final := filepath.Join(s.basePath, FileName(rawURL))
	return Entry{
		URL:         rawURL,
		Fingerprint: Fingerprint(rawURL),
		Final:       final,
		Temp:        final + TempSuffix,
	}
}

// State 在调用时刻检查 final/temp 文件，final 优先。
func (s *Store) State(entry Entry) State {
	if isRegular(entry.Final) {
		return StateFinal
	}
	if isRegular(entry.Temp) {
		return StateFilling
	}
	return StateAbsent
}

// Size 返回文件当前大小，不存在时返回 ErrNotFound。
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, ErrNotFound
	}
	return info.Size(), nil
}

// Touch 将 atime/mtime 同时刷新为当前时间。很多挂载点启用了 noatime，
// 因此淘汰排序读取的是 mtime，而最终文件在落盘后内容不再变化。
func (s *Store) Touch(path string) error {
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Acquire 为正在读取的文件登记租约，返回的 release 必须调用一次。
func (s *Store) Acquire(path string) func() {
	s.mu.Lock()
	s.leases[path]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.leases[path]--
			if s.leases[path] <= 0 {
				delete(s.leases, path)
			}
			s.mu.Unlock()
		})
	}
}

// Leased 表示是否有请求正在读取该文件。
func (s *Store) Leased(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases[path] > 0
}

// List 返回缓存目录下的全部最终文件，跳过 .tmp 与子目录。
func (s *Store) List() ([]FileInfo, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(dirEntries))
	for _, item := range dirEntries {
		if item.IsDir() || strings.HasSuffix(item.Name(), TempSuffix) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, FileInfo{
			Path:       filepath.Join(s.basePath, item.Name()),
			Name:       item.Name(),
			SizeBytes:  info.Size(),
			AccessTime: info.ModTime(),
		})
	}
	return files, nil
}

// Remove 删除文件，文件已不存在时视为成功。
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
