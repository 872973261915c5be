package recordstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kjk/common/atomicfile"

	"github.com/bigkaa/userstore/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// newTestStore создаёт инициализированное хранилище во временной директории.
func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "users.json"), opts, testLogger())
	if _, err := s.Init(context.Background()); err != nil {
		t.Fatalf("ошибка инициализации: %v", err)
	}
	return s
}

func adaFields() model.UserFields {
	return model.UserFields{
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Username:   "ada",
		Birthday:   "1815-12-10",
		Occupation: "Mathematician",
	}
}

// TestInit_CreatesEmptyDocument проверяет создание пустой коллекции.
func TestInit_CreatesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	s := New(path, Options{}, testLogger())

	report, err := s.Init(context.Background())
	if err != nil {
		t.Fatalf("ошибка инициализации: %v", err)
	}
	if !report.Created || report.Count != 0 {
		t.Errorf("ожидалось Created=true, Count=0, получено %+v", report)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("файл не создан: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("содержимое: ожидалось [], получено %q", data)
	}

	// Повторный Init не пересоздаёт файл
	report, err = s.Init(context.Background())
	if err != nil {
		t.Fatalf("повторная инициализация: %v", err)
	}
	if report.Created {
		t.Error("повторный Init не должен создавать файл")
	}
}

// TestInit_ReportsDuplicates проверяет обнаружение повторяющихся id.
func TestInit_ReportsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	doc := `[{"id":1,"firstName":"A"},{"id":2,"firstName":"B"},{"id":1,"firstName":"C"},{"id":3},{"id":3}]`
	if err := os.WriteFile(path, []byte(doc), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	report, err := New(path, Options{}, testLogger()).Init(context.Background())
	if err != nil {
		t.Fatalf("ошибка инициализации: %v", err)
	}
	if report.Count != 5 {
		t.Errorf("Count: ожидалось 5, получено %d", report.Count)
	}
	if !reflect.DeepEqual(report.DuplicateIDs, []int{1, 3}) {
		t.Errorf("DuplicateIDs: ожидалось [1 3], получено %v", report.DuplicateIDs)
	}
}

// TestInit_CorruptDocument проверяет ошибку на повреждённом файле.
func TestInit_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	_ = os.WriteFile(path, []byte("{not json"), 0o640)

	_, err := New(path, Options{}, testLogger()).Init(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("ожидалась ErrStoreUnavailable, получено %v", err)
	}
}

// TestCreate_SequentialIDs проверяет id 1..N в порядке вставки.
func TestCreate_SequentialIDs(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		u, err := s.Create(ctx, model.UserFields{Username: "u"}, nil)
		if err != nil {
			t.Fatalf("ошибка создания: %v", err)
		}
		if u.ID != i {
			t.Errorf("id: ожидалось %d, получено %d", i, u.ID)
		}
	}

	users, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	for i, u := range users {
		if u.ID != i+1 {
			t.Errorf("позиция %d: ожидался id %d, получен %d", i, i+1, u.ID)
		}
	}
}

// TestCreate_WithImage проверяет сохранение ссылки на изображение.
func TestCreate_WithImage(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	u, err := s.Create(ctx, adaFields(), strPtr("userImage-1.png"))
	if err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}
	if u.UserImage == nil || *u.UserImage != "userImage-1.png" {
		t.Errorf("UserImage: получено %v", u.UserImage)
	}

	got, err := s.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !reflect.DeepEqual(got, u) {
		t.Errorf("GetByID: ожидалось %+v, получено %+v", u, got)
	}
}

// TestScenario_CreateListUpdate — пустая коллекция → create → getAll → update.
func TestScenario_CreateListUpdate(t *testing.T) {
	s := newTestStore(t, Options{FileLock: true})
	ctx := context.Background()

	created, err := s.Create(ctx, adaFields(), nil)
	if err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}
	want := model.User{
		ID: 1, FirstName: "Ada", LastName: "Lovelace", Username: "ada",
		Birthday: "1815-12-10", Occupation: "Mathematician",
	}
	if !reflect.DeepEqual(created, want) {
		t.Fatalf("create: ожидалось %+v, получено %+v", want, created)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if len(all) != 1 || !reflect.DeepEqual(all[0], created) {
		t.Fatalf("getAll: ожидалась одна запись %+v, получено %+v", created, all)
	}

	if _, err := s.Update(ctx, 1, model.UserPatch{Occupation: strPtr("Engineer")}, nil); err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}

	got, err := s.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	want.Occupation = "Engineer"
	if !reflect.DeepEqual(got, want) {
		t.Errorf("после update: ожидалось %+v, получено %+v", want, got)
	}
}

// TestUpdate_PreservesPositionAndImage проверяет позицию и неизменность изображения.
func TestUpdate_PreservesPositionAndImage(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.Create(ctx, model.UserFields{Username: name}, strPtr(name+".png")); err != nil {
			t.Fatalf("ошибка создания: %v", err)
		}
	}

	updated, err := s.Update(ctx, 2, model.UserPatch{FirstName: strPtr("Bob"), Username: strPtr("bob")}, nil)
	if err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}
	if updated.ID != 2 || updated.FirstName != "Bob" || updated.Username != "bob" {
		t.Errorf("неожиданный результат: %+v", updated)
	}
	if updated.UserImage == nil || *updated.UserImage != "b.png" {
		t.Errorf("UserImage не должен меняться: %v", updated.UserImage)
	}

	all, _ := s.GetAll(ctx)
	if all[1].ID != 2 || all[1].Username != "bob" {
		t.Errorf("запись должна остаться на позиции 1: %+v", all)
	}
	if all[0].Username != "a" || all[2].Username != "c" {
		t.Errorf("соседние записи изменены: %+v", all)
	}

	// Новое изображение заменяет старое
	updated, err = s.Update(ctx, 2, model.UserPatch{}, strPtr("new.png"))
	if err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}
	if *updated.UserImage != "new.png" || updated.Username != "bob" {
		t.Errorf("неожиданный результат: %+v", updated)
	}
}

// TestUpdate_NotFoundLeavesFileUnchanged — update(999) на 3 записях.
func TestUpdate_NotFoundLeavesFileUnchanged(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, adaFields(), nil); err != nil {
			t.Fatalf("ошибка создания: %v", err)
		}
	}

	before, _ := os.ReadFile(s.Path())

	_, err := s.Update(ctx, 999, model.UserPatch{Occupation: strPtr("x")}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}

	after, _ := os.ReadFile(s.Path())
	if !bytes.Equal(before, after) {
		t.Error("файл данных не должен меняться")
	}

	all, _ := s.GetAll(ctx)
	if len(all) != 3 {
		t.Errorf("ожидалось 3 записи, получено %d", len(all))
	}
}

// TestWriteFailure_LeavesFileUnchanged проверяет, что сбой записи после
// успешного чтения документа возвращает ErrStoreUnavailable и не меняет файл.
func TestWriteFailure_LeavesFileUnchanged(t *testing.T) {
	tests := []struct {
		name       string
		createTemp func(t *testing.T) func(string) (*atomicfile.File, error)
	}{
		{
			name: "временный файл не создан",
			createTemp: func(*testing.T) func(string) (*atomicfile.File, error) {
				return func(string) (*atomicfile.File, error) {
					return nil, errors.New("нет места на устройстве")
				}
			},
		},
		{
			name: "сбой публикации",
			createTemp: func(t *testing.T) func(string) (*atomicfile.File, error) {
				// Временный файл создаётся в директории, которая исчезает
				// до rename: запись проходит, публикация завершается ошибкой
				return func(string) (*atomicfile.File, error) {
					dir := t.TempDir()
					f, err := atomicfile.New(filepath.Join(dir, "users.json"))
					if err != nil {
						return nil, err
					}
					if err := os.RemoveAll(dir); err != nil {
						t.Fatalf("ошибка удаления директории: %v", err)
					}
					return f, nil
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, Options{})
			ctx := context.Background()

			if _, err := s.Create(ctx, adaFields(), nil); err != nil {
				t.Fatalf("ошибка создания: %v", err)
			}
			before, _ := os.ReadFile(s.Path())

			s.createTemp = tt.createTemp(t)

			if _, err := s.Create(ctx, adaFields(), strPtr("a.png")); !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("Create: ожидалась ErrStoreUnavailable, получено %v", err)
			}
			if _, err := s.Update(ctx, 1, model.UserPatch{Occupation: strPtr("x")}, nil); !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("Update: ожидалась ErrStoreUnavailable, получено %v", err)
			}

			after, _ := os.ReadFile(s.Path())
			if !bytes.Equal(before, after) {
				t.Errorf("файл данных не должен меняться:\nдо: %s\nпосле: %s", before, after)
			}

			all, err := s.GetAll(ctx)
			if err != nil {
				t.Fatalf("GetAll: %v", err)
			}
			if len(all) != 1 || all[0].Occupation != "Mathematician" {
				t.Errorf("ожидалась одна исходная запись, получено %+v", all)
			}
		})
	}
}

// TestGetByID_NotFound проверяет отсутствие записи.
func TestGetByID_NotFound(t *testing.T) {
	s := newTestStore(t, Options{})

	_, err := s.GetByID(context.Background(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestDuplicateIDs_FirstMatchWins проверяет выбор первой записи.
func TestDuplicateIDs_FirstMatchWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	doc := `[{"id":1,"firstName":"first"},{"id":1,"firstName":"second"}]`
	_ = os.WriteFile(path, []byte(doc), 0o640)
	s := New(path, Options{}, testLogger())
	ctx := context.Background()

	got, err := s.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.FirstName != "first" {
		t.Errorf("ожидалась первая запись, получено %q", got.FirstName)
	}

	if _, err := s.Update(ctx, 1, model.UserPatch{LastName: strPtr("L")}, nil); err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}
	all, _ := s.GetAll(ctx)
	if all[0].LastName != "L" || all[1].LastName != "" {
		t.Errorf("должна измениться только первая запись: %+v", all)
	}
}

// TestIDPolicy сравнивает политики назначения id на коллекции с «дыркой».
func TestIDPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy IDPolicy
		want   int
	}{
		{"size", IDPolicySize, 3},
		{"max", IDPolicyMax, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "users.json")
			_ = os.WriteFile(path, []byte(`[{"id":1},{"id":7}]`), 0o640)
			s := New(path, Options{IDPolicy: tt.policy}, testLogger())

			u, err := s.Create(context.Background(), model.UserFields{}, nil)
			if err != nil {
				t.Fatalf("ошибка создания: %v", err)
			}
			if u.ID != tt.want {
				t.Errorf("id: ожидалось %d, получено %d", tt.want, u.ID)
			}
		})
	}
}

// TestParseIDPolicy проверяет разбор политики.
func TestParseIDPolicy(t *testing.T) {
	if p, err := ParseIDPolicy("max"); err != nil || p != IDPolicyMax {
		t.Errorf("max: получено %q, %v", p, err)
	}
	if _, err := ParseIDPolicy("uuid"); err == nil {
		t.Error("ожидалась ошибка для неизвестной политики")
	}
}

// TestMissingDocument проверяет ErrStoreUnavailable без файла данных.
func TestMissingDocument(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "users.json"), Options{}, testLogger())
	ctx := context.Background()

	if _, err := s.GetAll(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("GetAll: ожидалась ErrStoreUnavailable, получено %v", err)
	}
	if _, err := s.Create(ctx, adaFields(), nil); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Create: ожидалась ErrStoreUnavailable, получено %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("Create не должен создавать файл данных")
	}
}

// TestCorruptDocument проверяет, что повреждённый файл не перезаписывается.
func TestCorruptDocument(t *testing.T) {
	tests := []string{"", "null", "{", `{"id":1}`, `[{"id":"x"}]`}

	for _, doc := range tests {
		t.Run(doc, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "users.json")
			_ = os.WriteFile(path, []byte(doc), 0o640)
			s := New(path, Options{}, testLogger())
			ctx := context.Background()

			if _, err := s.GetByID(ctx, 1); !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("GetByID: ожидалась ErrStoreUnavailable, получено %v", err)
			}
			if _, err := s.Update(ctx, 1, model.UserPatch{}, nil); !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("Update: ожидалась ErrStoreUnavailable, получено %v", err)
			}
			if _, err := s.Create(ctx, adaFields(), nil); !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("Create: ожидалась ErrStoreUnavailable, получено %v", err)
			}

			data, _ := os.ReadFile(path)
			if string(data) != doc {
				t.Errorf("повреждённый файл не должен меняться: %q", data)
			}
		})
	}
}

// TestCancelledContext проверяет отказ без I/O при отменённом контексте.
func TestCancelledContext(t *testing.T) {
	s := newTestStore(t, Options{FileLock: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Create(ctx, adaFields(), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Create: ожидалась context.Canceled, получено %v", err)
	}
	if _, err := s.GetAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("GetAll: ожидалась context.Canceled, получено %v", err)
	}

	all, _ := s.GetAll(context.Background())
	if len(all) != 0 {
		t.Errorf("коллекция должна остаться пустой, получено %d", len(all))
	}
}

// TestConcurrentCreate — N параллельных create дают N записей с разными id.
func TestConcurrentCreate(t *testing.T) {
	for _, fileLock := range []bool{false, true} {
		name := "mutex"
		if fileLock {
			name = "flock"
		}
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, Options{FileLock: fileLock})
			ctx := context.Background()
			const n = 50

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Create(ctx, adaFields(), nil); err != nil {
						t.Errorf("ошибка создания: %v", err)
					}
				}()
			}
			wg.Wait()

			all, err := s.GetAll(ctx)
			if err != nil {
				t.Fatalf("ошибка чтения: %v", err)
			}
			if len(all) != n {
				t.Fatalf("ожидалось %d записей, получено %d", n, len(all))
			}

			ids := make([]int, 0, n)
			for _, u := range all {
				ids = append(ids, u.ID)
			}
			sort.Ints(ids)
			for i, id := range ids {
				if id != i+1 {
					t.Fatalf("ожидались id 1..%d, получено %v", n, ids)
				}
			}
		})
	}
}

// TestConcurrentStores — два экземпляра Store на одном файле
// (как два процесса) сериализуются через flock.
func TestConcurrentStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	a := New(path, Options{FileLock: true}, testLogger())
	b := New(path, Options{FileLock: true}, testLogger())
	if _, err := a.Init(context.Background()); err != nil {
		t.Fatalf("ошибка инициализации: %v", err)
	}

	const perStore = 20
	var wg sync.WaitGroup
	for _, s := range []*Store{a, b} {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(s *Store) {
				defer wg.Done()
				if _, err := s.Create(context.Background(), model.UserFields{}, nil); err != nil {
					t.Errorf("ошибка создания: %v", err)
				}
			}(s)
		}
	}
	wg.Wait()

	all, err := a.GetAll(context.Background())
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if len(all) != 2*perStore {
		t.Errorf("ожидалось %d записей, получено %d", 2*perStore, len(all))
	}
}

// TestReadersNeverSeeTornDocument — читатели параллельно с писателями
// всегда получают целый документ.
func TestReadersNeverSeeTornDocument(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	long := strings.Repeat("x", 4096)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := s.GetAll(ctx); err != nil {
					t.Errorf("читатель получил ошибку: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if _, err := s.Create(ctx, model.UserFields{Occupation: long}, nil); err != nil {
			t.Fatalf("ошибка создания: %v", err)
		}
	}
	close(done)
	wg.Wait()
}

// TestNoTempFilesLeft проверяет, что после записи остаются только users.json и lock.
func TestNoTempFilesLeft(t *testing.T) {
	s := newTestStore(t, Options{FileLock: true})
	if _, err := s.Create(context.Background(), adaFields(), nil); err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	for _, e := range entries {
		if e.Name() != "users.json" && e.Name() != "users.json"+LockSuffix {
			t.Errorf("лишний файл в директории: %s", e.Name())
		}
	}
}
