// users.go — HTTP handlers для записей пользователей.
// JSON API (/api/v1/users) и обработчики HTML-форм
// (/createusers, /editusers).
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/bigkaa/userstore/internal/api/errors"
	"github.com/bigkaa/userstore/internal/domain/model"
	"github.com/bigkaa/userstore/internal/service"
)

// multipartMemory — объём multipart-формы, хранимый в памяти.
// Остаток ParseMultipartForm пишет во временные файлы.
const multipartMemory = 8 << 20

// listPath — адрес перенаправления после отправки формы.
const listPath = "/api/v1/users"

// UsersHandler — обработчик endpoints записей пользователей.
type UsersHandler struct {
	svc           *service.UserService
	uploadField   string
	maxUploadSize int64
}

// NewUsersHandler создаёт обработчик записей пользователей.
// uploadField — имя поля формы с изображением, maxUploadSize — лимит тела запроса.
func NewUsersHandler(svc *service.UserService, uploadField string, maxUploadSize int64) *UsersHandler {
	return &UsersHandler{
		svc:           svc,
		uploadField:   uploadField,
		maxUploadSize: maxUploadSize,
	}
}

// ListUsers обрабатывает GET /api/v1/users.
func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, uerr := h.svc.List(r.Context())
	if uerr != nil {
		errors.WriteError(w, uerr.StatusCode, uerr.Code, uerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser обрабатывает GET /api/v1/users/{id}.
func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	var id int
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный формат параметра id: %s", err))
		return
	}

	h.writeUser(w, r, id)
}

// CreateUser обрабатывает POST /api/v1/users.
// Форма: firstName, lastName, username, birthday, occupation (обязательно),
// изображение в поле uploadField (опционально).
func (h *UsersHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.create(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// UpdateUser обрабатывает PATCH и POST /api/v1/users/{id}.
// Изменяются только переданные поля формы.
func (h *UsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var id int
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный формат параметра id: %s", err))
		return
	}

	user, ok := h.update(w, r, func() (int, error) { return id, nil })
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// CreateUserForm обрабатывает POST /createusers.
// После создания перенаправляет на список пользователей.
func (h *UsersHandler) CreateUserForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.create(w, r); !ok {
		return
	}
	http.Redirect(w, r, listPath, http.StatusSeeOther)
}

// EditUserForm обрабатывает POST /editusers.
// id записи передаётся в поле формы userId.
func (h *UsersHandler) EditUserForm(w http.ResponseWriter, r *http.Request) {
	_, ok := h.update(w, r, func() (int, error) {
		var id int
		err := runtime.BindQueryParameter("form", true, true, "userId", r.PostForm, &id)
		return id, err
	})
	if !ok {
		return
	}
	http.Redirect(w, r, listPath, http.StatusSeeOther)
}

// GetUserForm обрабатывает GET /editusers?id=.
// Возвращает запись для заполнения формы редактирования.
// Отсутствующий или нечисловой id не совпадает ни с одной записью: 404.
func (h *UsersHandler) GetUserForm(w http.ResponseWriter, r *http.Request) {
	var id int
	if err := runtime.BindQueryParameter("form", true, true, "id", r.URL.Query(), &id); err != nil {
		errors.NotFound(w, "Пользователь не найден")
		return
	}

	h.writeUser(w, r, id)
}

// writeUser отвечает записью с указанным id.
func (h *UsersHandler) writeUser(w http.ResponseWriter, r *http.Request, id int) {
	user, uerr := h.svc.Get(r.Context(), id)
	if uerr != nil {
		errors.WriteError(w, uerr.StatusCode, uerr.Code, uerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// create разбирает форму и создаёт запись. При ошибке ответ уже записан.
func (h *UsersHandler) create(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	if !h.parseForm(w, r) {
		return model.User{}, false
	}

	image, closeImage, ok := h.formImage(w, r)
	if !ok {
		return model.User{}, false
	}
	defer closeImage()

	fields := model.UserFields{
		FirstName:  r.PostForm.Get("firstName"),
		LastName:   r.PostForm.Get("lastName"),
		Username:   r.PostForm.Get("username"),
		Birthday:   r.PostForm.Get("birthday"),
		Occupation: r.PostForm.Get("occupation"),
	}

	user, uerr := h.svc.Create(r.Context(), fields, image)
	if uerr != nil {
		errors.WriteError(w, uerr.StatusCode, uerr.Code, uerr.Message)
		return model.User{}, false
	}
	return user, true
}

// update разбирает форму и обновляет запись. id вычисляется после разбора
// формы, так как может передаваться в её полях.
func (h *UsersHandler) update(w http.ResponseWriter, r *http.Request, id func() (int, error)) (model.User, bool) {
	if !h.parseForm(w, r) {
		return model.User{}, false
	}

	userID, err := id()
	if err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректный формат параметра id: %s", err))
		return model.User{}, false
	}

	image, closeImage, ok := h.formImage(w, r)
	if !ok {
		return model.User{}, false
	}
	defer closeImage()

	patch := model.UserPatch{
		FirstName:  formValue(r, "firstName"),
		LastName:   formValue(r, "lastName"),
		Username:   formValue(r, "username"),
		Birthday:   formValue(r, "birthday"),
		Occupation: formValue(r, "occupation"),
	}

	user, uerr := h.svc.Update(r.Context(), userID, patch, image)
	if uerr != nil {
		errors.WriteError(w, uerr.StatusCode, uerr.Code, uerr.Message)
		return model.User{}, false
	}
	return user, true
}

// parseForm ограничивает тело запроса и разбирает multipart или urlencoded форму.
func (h *UsersHandler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	var err error
	switch contentType := r.Header.Get("Content-Type"); {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		err = r.ParseMultipartForm(multipartMemory)
	case strings.HasPrefix(contentType, "application/json"):
		err = parseJSONForm(r)
	default:
		err = r.ParseForm()
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		errors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает максимум %d байт", tooLarge.Limit))
		return false
	}
	errors.ValidationError(w, fmt.Sprintf("Ошибка разбора формы: %s", err.Error()))
	return false
}

// parseJSONForm заполняет r.PostForm строковыми полями JSON-объекта.
func parseJSONForm(r *http.Request) error {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return err
	}

	r.PostForm = url.Values{}
	for name, value := range body {
		switch v := value.(type) {
		case string:
			r.PostForm.Set(name, v)
		case float64:
			r.PostForm.Set(name, strconv.FormatFloat(v, 'f', -1, 64))
		case nil:
		default:
			return fmt.Errorf("поле %s должно быть строкой", name)
		}
	}
	r.Form = r.PostForm
	return nil
}

// formImage извлекает изображение из multipart-формы. Отсутствие файла
// не является ошибкой. Возвращаемую функцию закрытия нужно вызвать всегда.
func (h *UsersHandler) formImage(w http.ResponseWriter, r *http.Request) (*service.ImageUpload, func(), bool) {
	noop := func() {}
	if r.MultipartForm == nil {
		return nil, noop, true
	}

	file, header, err := r.FormFile(h.uploadField)
	if stderrors.Is(err, http.ErrMissingFile) {
		return nil, noop, true
	}
	if err != nil {
		errors.ValidationError(w, fmt.Sprintf("Ошибка чтения поля '%s': %s", h.uploadField, err.Error()))
		return nil, noop, false
	}

	return &service.ImageUpload{Reader: file, Filename: header.Filename}, closer(file), true
}

// formValue возвращает указатель на значение поля формы или nil,
// если поле не передано.
func formValue(r *http.Request, name string) *string {
	values, ok := r.PostForm[name]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

func closer(f multipart.File) func() {
	return func() { _ = f.Close() }
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
