// Пакет filelock — advisory-блокировка файла через flock().
//
// Используется RecordStore для сериализации read-modify-write между
// несколькими процессами, работающими с одним users.json.
// Внутри процесса сериализация обеспечивается мьютексом хранилища,
// flock лишь дополняет его.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// pollInterval — интервал повторной попытки захвата занятой блокировки.
const pollInterval = 10 * time.Millisecond

// Lock — эксклюзивная блокировка на lock-файле.
type Lock struct {
	path string
	f    *os.File
}

// Acquire захватывает эксклюзивную блокировку на path.
// Lock-файл создаётся при необходимости и не удаляется.
// Неблокирующие попытки повторяются до успеха или отмены ctx.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", path, err)
	}

	fd := int(f.Fd())
	for {
		err = syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &Lock{path: path, f: f}, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EINTR) {
			_ = f.Close()
			return nil, fmt.Errorf("ошибка flock %s: %w", path, err)
		}

		// Блокировка занята другим процессом
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release снимает блокировку и закрывает файл. Повторный вызов безопасен.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	fd := int(l.f.Fd())
	unlockErr := syscall.Flock(fd, syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil

	if unlockErr != nil {
		return fmt.Errorf("ошибка снятия flock %s: %w", l.path, unlockErr)
	}
	return closeErr
}

// Path возвращает путь к lock-файлу.
func (l *Lock) Path() string {
	return l.path
}
