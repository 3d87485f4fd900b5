package cache

import (
	"errors"
	"io/fs"
	"os"
)

// Finalize 将下载完成的临时文件原子地重命名为最终文件，并以当前时间作为首次访问时间。
func (s *Store) Finalize(entry Entry) error {
	if err := os.Rename(entry.Temp, entry.Final); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := s.Touch(entry.Final); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Discard 删除下载失败留下的临时文件。
func (s *Store) Discard(entry Entry) error {
	return s.Remove(entry.Temp)
}
