package recordstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bigkaa/userstore/internal/domain/model"
)

// errNullDocument — документ содержит null вместо массива.
var errNullDocument = errors.New("документ не является массивом записей")

// Encode сериализует коллекцию в JSON-массив с отступом в два пробела.
// HTML-символы не экранируются: содержимое полей сохраняется как есть.
// Пустая (nil) коллекция сериализуется как [].
func Encode(users []model.User) ([]byte, error) {
	if users == nil {
		users = []model.User{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(users); err != nil {
		return nil, fmt.Errorf("ошибка сериализации коллекции: %w", err)
	}

	// Encoder добавляет перевод строки в конце
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode десериализует коллекцию. Порядок записей сохраняется.
// Пустой документ и null считаются повреждёнными.
func Decode(data []byte) ([]model.User, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("пустой документ")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, errNullDocument
	}

	var users []model.User
	if err := json.Unmarshal(trimmed, &users); err != nil {
		return nil, fmt.Errorf("ошибка десериализации коллекции: %w", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}
