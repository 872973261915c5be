// Пакет recordstore — хранение коллекции пользователей в одном JSON-файле.
//
// Каждая изменяющая операция (Create, Update) выполняет полный цикл
// read-modify-write над файлом:
//  1. Захват мьютекса хранилища и (опционально) flock на {file}.lock
//  2. Чтение и десериализация всей коллекции
//  3. Изменение коллекции в памяти
//  4. Атомарная публикация: temp файл → fsync → rename
//
// Читающие операции (GetAll, GetByID) блокировок не берут: файл только
// заменяется через rename, поэтому читатель видит либо старый, либо новый
// документ целиком.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/kjk/common/atomicfile"

	"github.com/bigkaa/userstore/internal/domain/model"
	"github.com/bigkaa/userstore/internal/storage/filelock"
)

// LockSuffix — суффикс lock-файла рядом с файлом данных.
const LockSuffix = ".lock"

var (
	// ErrStoreUnavailable — файл данных не удалось прочитать, разобрать или записать.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
	// ErrNotFound — запись с указанным id отсутствует.
	ErrNotFound = errors.New("запись не найдена")
)

// IDPolicy — политика назначения идентификаторов новых записей.
type IDPolicy string

const (
	// IDPolicySize — id = размер коллекции + 1.
	IDPolicySize IDPolicy = "size"
	// IDPolicyMax — id = максимальный существующий id + 1.
	IDPolicyMax IDPolicy = "max"
)

// ParseIDPolicy преобразует строку в IDPolicy.
func ParseIDPolicy(s string) (IDPolicy, error) {
	switch IDPolicy(s) {
	case IDPolicySize, IDPolicyMax:
		return IDPolicy(s), nil
	default:
		return "", fmt.Errorf("недопустимая политика id %q, допустимые: size, max", s)
	}
}

// Options — параметры хранилища.
type Options struct {
	// IDPolicy — политика назначения id (по умолчанию size)
	IDPolicy IDPolicy
	// FileLock — использовать flock для сериализации между процессами
	FileLock bool
}

// InitReport — результат инициализации хранилища.
type InitReport struct {
	// Created — файл данных создан с пустой коллекцией
	Created bool
	// Count — количество записей в коллекции
	Count int
	// DuplicateIDs — id, встречающиеся более одного раза (по возрастанию)
	DuplicateIDs []int
}

// Store — хранилище коллекции пользователей.
type Store struct {
	path     string
	lockPath string
	opts     Options
	logger   *slog.Logger

	// mu — единственная точка сериализации изменяющих операций в процессе
	mu sync.Mutex

	// createTemp открывает временный файл для атомарной замены документа,
	// подменяется в тестах
	createTemp func(path string) (*atomicfile.File, error)
}

// New создаёт хранилище для файла path. Файл не читается и не создаётся:
// для начальной инициализации вызовите Init.
func New(path string, opts Options, logger *slog.Logger) *Store {
	if opts.IDPolicy == "" {
		opts.IDPolicy = IDPolicySize
	}
	return &Store{
		path:     path,
		lockPath: path + LockSuffix,
		opts:     opts,
		logger:   logger.With(slog.String("component", "record_store")),

		createTemp: atomicfile.New,
	}
}

// Path возвращает путь к файлу данных.
func (s *Store) Path() string {
	return s.path
}

// Init создаёт файл с пустой коллекцией, если он не существует,
// иначе проверяет, что существующий файл читается. Вызывается один раз
// при старте сервиса.
func (s *Store) Init(ctx context.Context) (*InitReport, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, statErr := os.Stat(s.path); errors.Is(statErr, os.ErrNotExist) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
		s.logger.Info("Создан файл данных с пустой коллекцией", slog.String("path", s.path))
		return &InitReport{Created: true}, nil
	}

	users, err := s.load()
	if err != nil {
		return nil, err
	}

	report := &InitReport{
		Count:        len(users),
		DuplicateIDs: duplicateIDs(users),
	}
	if len(report.DuplicateIDs) > 0 {
		s.logger.Warn("В файле данных обнаружены повторяющиеся id, используется первое совпадение",
			slog.String("path", s.path),
			slog.Any("ids", report.DuplicateIDs),
		)
	}

	return report, nil
}

// Create добавляет запись в конец коллекции и возвращает её.
func (s *Store) Create(ctx context.Context, fields model.UserFields, imageRef *string) (model.User, error) {
	return s.mutate(ctx, func(users []model.User) ([]model.User, int, error) {
		user := model.NewUser(s.nextID(users), fields, imageRef)
		return append(users, user), len(users), nil
	})
}

// Update применяет patch к записи с указанным id. При нескольких
// записях с одинаковым id изменяется первая. Если запись не найдена,
// возвращается ErrNotFound и файл не перезаписывается.
func (s *Store) Update(ctx context.Context, id int, patch model.UserPatch, imageRef *string) (model.User, error) {
	return s.mutate(ctx, func(users []model.User) ([]model.User, int, error) {
		i := indexOf(users, id)
		if i < 0 {
			return nil, 0, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		users[i].Apply(patch, imageRef)
		return users, i, nil
	})
}

// GetAll возвращает всю коллекцию в порядке вставки.
func (s *Store) GetAll(ctx context.Context) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load()
}

// GetByID возвращает первую запись с указанным id.
func (s *Store) GetByID(ctx context.Context, id int) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}

	users, err := s.load()
	if err != nil {
		return model.User{}, err
	}

	i := indexOf(users, id)
	if i < 0 {
		return model.User{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return users[i], nil
}

// mutate выполняет read-modify-write под блокировкой.
// fn возвращает новую коллекцию и индекс изменённой записи.
func (s *Store) mutate(
	ctx context.Context,
	fn func(users []model.User) ([]model.User, int, error),
) (model.User, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return model.User{}, err
	}
	defer unlock()

	users, err := s.load()
	if err != nil {
		return model.User{}, err
	}

	users, i, err := fn(users)
	if err != nil {
		return model.User{}, err
	}

	if err := s.write(users); err != nil {
		return model.User{}, err
	}

	return users[i].Clone(), nil
}

// lock захватывает мьютекс и, если включено, flock.
// Возвращает функцию освобождения.
func (s *Store) lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.opts.FileLock {
		return s.mu.Unlock, nil
	}

	fl, err := filelock.Acquire(ctx, s.lockPath)
	if err != nil {
		s.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return func() {
		if err := fl.Release(); err != nil {
			s.logger.Warn("Ошибка освобождения lock-файла",
				slog.String("path", fl.Path()),
				slog.String("error", err.Error()),
			)
		}
		s.mu.Unlock()
	}, nil
}

// load читает и десериализует весь файл данных.
func (s *Store) load() ([]model.User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения %s: %w", ErrStoreUnavailable, s.path, err)
	}

	users, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, s.path, err)
	}
	return users, nil
}

// write атомарно заменяет файл данных сериализованной коллекцией.
// При ошибке прежнее содержимое файла сохраняется.
func (s *Store) write(users []model.User) error {
	data, err := Encode(users)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	f, err := s.createTemp(s.path)
	if err != nil {
		return fmt.Errorf("%w: ошибка создания временного файла: %w", ErrStoreUnavailable, err)
	}
	defer f.RemoveIfNotClosed()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: ошибка записи %s: %w", ErrStoreUnavailable, s.path, err)
	}

	// Close выполняет fsync и rename на итоговое имя
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: ошибка публикации %s: %w", ErrStoreUnavailable, s.path, err)
	}

	return nil
}

// nextID вычисляет id новой записи по политике хранилища.
func (s *Store) nextID(users []model.User) int {
	if s.opts.IDPolicy == IDPolicyMax {
		maxID := 0
		for _, u := range users {
			if u.ID > maxID {
				maxID = u.ID
			}
		}
		return maxID + 1
	}
	return len(users) + 1
}

// indexOf — линейный поиск первой записи с id.
func indexOf(users []model.User, id int) int {
	for i := range users {
		if users[i].ID == id {
			return i
		}
	}
	return -1
}

// duplicateIDs возвращает id, встречающиеся более одного раза.
func duplicateIDs(users []model.User) []int {
	seen := make(map[int]int, len(users))
	for _, u := range users {
		seen[u.ID]++
	}

	var dups []int
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Ints(dups)
	return dups
}
