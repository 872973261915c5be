// Пакет model — доменные модели сервиса пользователей.
// User — единая структура записи, используется как in-memory представление
// и как элемент JSON-массива в файле данных (users.json).
package model

// User — запись пользователя. Соответствует элементу users.json.
type User struct {
	// ID — идентификатор, назначается хранилищем при создании
	ID int `json:"id"`

	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Username   string `json:"username"`
	Birthday   string `json:"birthday"`
	Occupation string `json:"occupation"`

	// UserImage — имя файла изображения в директории загрузок.
	// nil — изображение не прикреплено (в JSON сериализуется как null).
	UserImage *string `json:"userImage"`
}

// UserFields — значения полей для создания записи.
// Формат полей не проверяется.
type UserFields struct {
	FirstName  string
	LastName   string
	Username   string
	Birthday   string
	Occupation string
}

// UserPatch — частичное обновление записи.
// nil-поле означает «не передано, оставить прежнее значение».
type UserPatch struct {
	FirstName  *string
	LastName   *string
	Username   *string
	Birthday   *string
	Occupation *string
}

// NewUser собирает запись из полей, идентификатора и ссылки на изображение.
func NewUser(id int, f UserFields, imageRef *string) User {
	return User{
		ID:         id,
		FirstName:  f.FirstName,
		LastName:   f.LastName,
		Username:   f.Username,
		Birthday:   f.Birthday,
		Occupation: f.Occupation,
		UserImage:  cloneString(imageRef),
	}
}

// IsEmpty возвращает true, если в patch не передано ни одного поля.
func (p UserPatch) IsEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Username == nil &&
		p.Birthday == nil && p.Occupation == nil
}

// Apply применяет patch к записи на месте. ID не меняется.
// UserImage заменяется только если imageRef != nil: операции
// «удалить изображение» нет.
func (u *User) Apply(p UserPatch, imageRef *string) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Birthday != nil {
		u.Birthday = *p.Birthday
	}
	if p.Occupation != nil {
		u.Occupation = *p.Occupation
	}
	if imageRef != nil {
		u.UserImage = cloneString(imageRef)
	}
}

// Clone возвращает копию записи, не разделяющую указатель UserImage.
func (u User) Clone() User {
	u.UserImage = cloneString(u.UserImage)
	return u
}

// HasImage проверяет, прикреплено ли изображение.
func (u User) HasImage() bool {
	return u.UserImage != nil && *u.UserImage != ""
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
