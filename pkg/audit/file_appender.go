package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileAppenderConfig - настройки файлового получателя
type FileAppenderConfig struct {
	FilePath string
	// MaxSize - размер файла в байтах, после которого он ротируется, default 100 MB
	MaxSize int64
	// MaxBackups - сколько файлов path.1 .. path.N хранить, default 5
	MaxBackups int
	Level      Level
	// FormatJSON - JSON по строке на запись, иначе Entry.String()
	FormatJSON bool
}

// FileAppender дописывает записи в файл с ротацией по размеру
type FileAppender struct {
	mu     sync.Mutex
	config FileAppenderConfig
	file   *os.File
	size   int64
}

// NewFileAppender открывает файл на дозапись, создавая каталог
func NewFileAppender(config FileAppenderConfig) (*FileAppender, error) {
	if config.MaxSize <= 0 {
		config.MaxSize = 100 << 20
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	fa := &FileAppender{config: config}
	if err := fa.open(); err != nil {
		return nil, err
	}
	return fa, nil
}

func (fa *FileAppender) open() error {
	f, err := os.OpenFile(fa.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %q: %w", fa.config.FilePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("audit: stat %q: %w", fa.config.FilePath, err)
	}
	fa.file, fa.size = f, info.Size()
	return nil
}

func (fa *FileAppender) Append(_ context.Context, entry *Entry) error {
	filtered := entry.FilterByLevel(fa.config.Level)

	var line []byte
	if fa.config.FormatJSON {
		data, err := filtered.ToJSON()
		if err != nil {
			return fmt.Errorf("audit: marshal entry: %w", err)
		}
		line = append(data, '\n')
	} else {
		line = []byte(filtered.String() + "\n")
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.file == nil {
		return ErrLoggerClosed
	}
	if fa.size > 0 && fa.size+int64(len(line)) > fa.config.MaxSize {
		if err := fa.rotate(); err != nil {
			return fmt.Errorf("audit: rotate: %w", err)
		}
	}
	n, err := fa.file.Write(line)
	fa.size += int64(n)
	if err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

// rotate: path.N удаляется, path.i -> path.i+1, path -> path.1
func (fa *FileAppender) rotate() error {
	if err := fa.file.Close(); err != nil {
		return err
	}
	path := fa.config.FilePath
	os.Remove(fmt.Sprintf("%s.%d", path, fa.config.MaxBackups))
	for i := fa.config.MaxBackups - 1; i >= 1; i-- {
		old := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(old); err == nil {
			os.Rename(old, fmt.Sprintf("%s.%d", path, i+1))
		}
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return err
	}
	return fa.open()
}

func (fa *FileAppender) Flush() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.file == nil {
		return nil
	}
	return fa.file.Sync()
}

func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.file == nil {
		return nil
	}
	err := fa.file.Close()
	fa.file = nil
	return err
}

// Size - текущий размер файла
func (fa *FileAppender) Size() int64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.size
}
