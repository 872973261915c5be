// Пакет service — бизнес-логика сервиса пользователей.
// users.go — создание, чтение и редактирование записей с загрузкой изображений.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/userstore/internal/api/errors"
	"github.com/bigkaa/userstore/internal/api/middleware"
	"github.com/bigkaa/userstore/internal/domain/model"
	"github.com/bigkaa/userstore/internal/storage/assetstore"
	"github.com/bigkaa/userstore/internal/storage/recordstore"
)

// RecordStore — хранилище коллекции пользователей.
type RecordStore interface {
	Create(ctx context.Context, fields model.UserFields, imageRef *string) (model.User, error)
	Update(ctx context.Context, id int, patch model.UserPatch, imageRef *string) (model.User, error)
	GetAll(ctx context.Context) ([]model.User, error)
	GetByID(ctx context.Context, id int) (model.User, error)
}

// AssetWriter — запись и удаление загруженных изображений.
type AssetWriter interface {
	Save(reader io.Reader, originalName string) (*assetstore.SaveResult, error)
	Delete(name string) error
}

// ImageUpload — загружаемое изображение из multipart-формы.
type ImageUpload struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Filename — оригинальное имя файла (используется только расширение)
	Filename string
}

// UserError — ошибка операции с записью с HTTP-кодом.
type UserError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserService — сервис записей пользователей.
type UserService struct {
	records RecordStore
	assets  AssetWriter
	logger  *slog.Logger
}

// NewUserService создаёт сервис записей пользователей.
func NewUserService(records RecordStore, assets AssetWriter, logger *slog.Logger) *UserService {
	return &UserService{
		records: records,
		assets:  assets,
		logger:  logger.With(slog.String("component", "user_service")),
	}
}

// Create создаёт запись пользователя.
//
// Поток:
//  1. Проверка обязательных полей
//  2. Сохранение изображения (если передано)
//  3. Добавление записи в коллекцию
//
// Если запись не удалось сохранить, изображение удаляется.
func (s *UserService) Create(ctx context.Context, fields model.UserFields, image *ImageUpload) (model.User, *UserError) {
	if missing := missingFields(fields); len(missing) > 0 {
		middleware.OperationsTotal.WithLabelValues("create", "invalid").Inc()
		return model.User{}, &UserError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Не заполнены обязательные поля: %s", strings.Join(missing, ", ")),
		}
	}

	imageRef, uerr := s.saveImage(image)
	if uerr != nil {
		middleware.OperationsTotal.WithLabelValues("create", "error").Inc()
		return model.User{}, uerr
	}

	user, err := s.records.Create(ctx, fields, imageRef)
	if err != nil {
		s.discardImage(imageRef)
		middleware.OperationsTotal.WithLabelValues("create", "error").Inc()
		return model.User{}, s.storeError(err, "create", 0)
	}

	middleware.OperationsTotal.WithLabelValues("create", "success").Inc()
	middleware.UsersTotal.Inc()

	s.logger.Info("Запись создана",
		slog.Int("user_id", user.ID),
		slog.String("username", user.Username),
		slog.Bool("has_image", user.HasImage()),
	)
	return user, nil
}

// Update частично обновляет запись с указанным id.
// Поля с nil-значением в patch не меняются; изображение заменяется,
// только если передано новое. Прежний файл изображения не удаляется.
func (s *UserService) Update(ctx context.Context, id int, patch model.UserPatch, image *ImageUpload) (model.User, *UserError) {
	if patch.IsEmpty() && image == nil {
		middleware.OperationsTotal.WithLabelValues("update", "invalid").Inc()
		return model.User{}, &UserError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    "Не передано ни одного поля для обновления",
		}
	}

	imageRef, uerr := s.saveImage(image)
	if uerr != nil {
		middleware.OperationsTotal.WithLabelValues("update", "error").Inc()
		return model.User{}, uerr
	}

	user, err := s.records.Update(ctx, id, patch, imageRef)
	if err != nil {
		s.discardImage(imageRef)
		result := "error"
		if errors.Is(err, recordstore.ErrNotFound) {
			result = "not_found"
		}
		middleware.OperationsTotal.WithLabelValues("update", result).Inc()
		return model.User{}, s.storeError(err, "update", id)
	}

	middleware.OperationsTotal.WithLabelValues("update", "success").Inc()

	s.logger.Info("Запись обновлена",
		slog.Int("user_id", user.ID),
		slog.Bool("image_replaced", imageRef != nil),
	)
	return user, nil
}

// List возвращает все записи в порядке хранения.
func (s *UserService) List(ctx context.Context) ([]model.User, *UserError) {
	users, err := s.records.GetAll(ctx)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("list", "error").Inc()
		return nil, s.storeError(err, "list", 0)
	}
	middleware.OperationsTotal.WithLabelValues("list", "success").Inc()
	middleware.UsersTotal.Set(float64(len(users)))
	return users, nil
}

// Get возвращает запись по id.
func (s *UserService) Get(ctx context.Context, id int) (model.User, *UserError) {
	user, err := s.records.GetByID(ctx, id)
	if err != nil {
		result := "error"
		if errors.Is(err, recordstore.ErrNotFound) {
			result = "not_found"
		}
		middleware.OperationsTotal.WithLabelValues("get", result).Inc()
		return model.User{}, s.storeError(err, "get", id)
	}
	middleware.OperationsTotal.WithLabelValues("get", "success").Inc()
	return user, nil
}

// saveImage сохраняет изображение и возвращает ссылку на него.
// Без изображения возвращает nil.
func (s *UserService) saveImage(image *ImageUpload) (*string, *UserError) {
	if image == nil {
		return nil, nil
	}

	saved, err := s.assets.Save(image.Reader, image.Filename)
	if err != nil {
		s.logger.Error("Ошибка сохранения изображения",
			slog.String("filename", image.Filename),
			slog.String("error", err.Error()),
		)
		return nil, &UserError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeAssetWriteFailed,
			Message:    "Ошибка сохранения изображения на диск",
		}
	}

	middleware.AssetBytesTotal.Add(float64(saved.Size))
	s.logger.Debug("Изображение сохранено",
		slog.String("filename", saved.Filename),
		slog.Int64("size", saved.Size),
		slog.String("checksum", saved.Checksum),
	)
	return &saved.Filename, nil
}

// discardImage удаляет изображение, ссылка на которое не попала в коллекцию.
func (s *UserService) discardImage(imageRef *string) {
	if imageRef == nil {
		return
	}
	if err := s.assets.Delete(*imageRef); err != nil {
		s.logger.Warn("Не удалось удалить неиспользуемое изображение",
			slog.String("filename", *imageRef),
			slog.String("error", err.Error()),
		)
	}
}

// storeError преобразует ошибку хранилища в UserError.
func (s *UserService) storeError(err error, op string, id int) *UserError {
	switch {
	case errors.Is(err, recordstore.ErrNotFound):
		return &UserError{
			StatusCode: http.StatusNotFound,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Пользователь %d не найден", id),
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &UserError{
			StatusCode: http.StatusServiceUnavailable,
			Code:       apierrors.CodeRequestCancelled,
			Message:    "Запрос отменён",
		}
	default:
		s.logger.Error("Ошибка хранилища записей",
			slog.String("operation", op),
			slog.Int("user_id", id),
			slog.String("error", err.Error()),
		)
		return &UserError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeStoreUnavailable,
			Message:    "Хранилище записей недоступно",
		}
	}
}

// missingFields возвращает имена незаполненных обязательных полей.
func missingFields(f model.UserFields) []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("firstName", f.FirstName)
	check("lastName", f.LastName)
	check("username", f.Username)
	check("birthday", f.Birthday)
	check("occupation", f.Occupation)
	return missing
}
