// Пакет assetstore — хранение загруженных файлов (изображений) на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// публикацию без перезаписи существующих файлов, чтение и листинг.
// Файлы неизменяемы после записи.
package assetstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultFieldTag — префикс имени файла по умолчанию (имя поля формы).
const DefaultFieldTag = "userImage"

// tmpPrefix — префикс временных файлов загрузки. Такие файлы
// не считаются ассетами и не возвращаются List.
const tmpPrefix = ".upload-"

// maxNameAttempts — сколько раз пробовать следующий timestamp при коллизии имени.
const maxNameAttempts = 100

var (
	// ErrAssetWriteFailed — поток не удалось полностью сохранить.
	ErrAssetWriteFailed = errors.New("ошибка записи файла")
	// ErrInvalidName — недопустимое имя файла (путь, "..", пустое).
	ErrInvalidName = errors.New("недопустимое имя файла")
	// ErrNotFound — файл отсутствует.
	ErrNotFound = errors.New("файл не найден")
)

// AssetStore — управление загруженными файлами в директории.
type AssetStore struct {
	// dir — директория загрузок (US_UPLOAD_DIR)
	dir string
	// fieldTag — префикс имени файла
	fieldTag string
	// now — источник времени, подменяется в тестах
	now func() time.Time
}

// SaveResult — результат сохранения файла.
type SaveResult struct {
	// Filename — имя файла в директории (ссылка для записи пользователя)
	Filename string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// AssetInfo — сведения о файле для листинга.
type AssetInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New создаёт AssetStore. Создаёт директорию, если она не существует.
// Пустой fieldTag заменяется на DefaultFieldTag.
func New(dir, fieldTag string) (*AssetStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", dir, err)
	}
	if fieldTag == "" {
		fieldTag = DefaultFieldTag
	}

	return &AssetStore{dir: dir, fieldTag: fieldTag, now: time.Now}, nil
}

// Save записывает данные из reader в директорию загрузок.
// Формат имени: {fieldTag}-{unix millis}{ext}, ext берётся из originalName.
// Расширение с недопустимыми символами отбрасывается.
// Возвращает имя (не полный путь), размер и checksum.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → link на итоговое имя.
// link не перезаписывает существующий файл: при коллизии timestamp
// увеличивается. temp файл удаляется в любом случае.
func (s *AssetStore) Save(reader io.Reader, originalName string) (*SaveResult, error) {
	tmpPath := filepath.Join(s.dir, tmpPrefix+uuid.New().String()+".tmp")
	defer os.Remove(tmpPath)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: создание временного файла: %w", ErrAssetWriteFailed, err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: запись данных: %w", ErrAssetWriteFailed, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: fsync: %w", ErrAssetWriteFailed, err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: закрытие файла: %w", ErrAssetWriteFailed, err)
	}

	name, err := s.publish(tmpPath, sanitizeExt(filepath.Ext(originalName)))
	if err != nil {
		return nil, err
	}

	return &SaveResult{
		Filename: name,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// publish создаёт итоговое имя для temp файла через hard link.
// os.Link завершается ошибкой, если имя занято, поэтому параллельные
// загрузки в одну миллисекунду не перезаписывают друг друга.
func (s *AssetStore) publish(tmpPath, ext string) (string, error) {
	ts := s.now().UnixMilli()

	for i := 0; i < maxNameAttempts; i++ {
		name := s.fieldTag + "-" + strconv.FormatInt(ts+int64(i), 10) + ext
		err := os.Link(tmpPath, filepath.Join(s.dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: публикация %s: %w", ErrAssetWriteFailed, name, err)
		}
	}

	return "", fmt.Errorf("%w: не удалось подобрать свободное имя за %d попыток", ErrAssetWriteFailed, maxNameAttempts)
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (s *AssetStore) Open(name string) (*os.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}

	return f, nil
}

// Delete удаляет файл. Возвращает nil, если файл уже не существует.
func (s *AssetStore) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// List возвращает файлы директории с именами вида {fieldTag}-{digits}{ext}.
// Временные и посторонние файлы (README, .gitkeep) пропускаются.
// Не рекурсивный.
func (s *AssetStore) List() ([]AssetInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.dir, err)
	}

	result := make([]AssetInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !s.isAssetName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Файл мог быть удалён между ReadDir и Info
			continue
		}
		result = append(result, AssetInfo{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return result, nil
}

// Dir возвращает путь к директории загрузок.
func (s *AssetStore) Dir() string {
	return s.dir
}

// FieldTag возвращает префикс имён файлов.
func (s *AssetStore) FieldTag() string {
	return s.fieldTag
}

// CheckWritable проверяет, что в директорию можно записать файл.
// Пробный файл получает имя временного файла загрузки, поэтому
// не конфликтует с ассетами и не попадает в List.
func (s *AssetStore) CheckWritable() error {
	testFile := filepath.Join(s.dir, tmpPrefix+"health-"+uuid.New().String()+".tmp")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("директория %s недоступна для записи: %w", s.dir, err)
	}
	return os.Remove(testFile)
}

// isAssetName проверяет, что имя создано Save: {fieldTag}-{digits}{ext}.
func (s *AssetStore) isAssetName(name string) bool {
	rest, ok := strings.CutPrefix(name, s.fieldTag+"-")
	if !ok {
		return false
	}
	ext := filepath.Ext(rest)
	digits := strings.TrimSuffix(rest, ext)
	if digits == "" || sanitizeExt(ext) != ext {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// sanitizeExt возвращает расширение, если оно состоит только из
// букв, цифр, '-' и '_'. Иначе возвращает пустую строку.
func sanitizeExt(ext string) string {
	if len(ext) < 2 || ext[0] != '.' {
		return ""
	}
	for _, c := range ext[1:] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ""
		}
	}
	return ext
}

// validateName запрещает пути и служебные имена.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		strings.HasPrefix(name, tmpPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
