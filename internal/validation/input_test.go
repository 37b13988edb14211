package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOrderSpec(t *testing.T) {
	err := ValidateOrderSpec("Фото очереди", "Сфотографируйте очередь у входа", "photo", 55.75, 37.61)
	assert.NoError(t, err)

	err = ValidateOrderSpec("ab", "Сфотографируйте очередь у входа", "photo", 55.75, 37.61)
	assert.Error(t, err)

	err = ValidateOrderSpec("Фото очереди", "коротко", "photo", 55.75, 37.61)
	assert.Error(t, err)

	err = ValidateOrderSpec("Фото очереди", "Сфотографируйте очередь у входа", "audio", 55.75, 37.61)
	assert.Error(t, err)

	err = ValidateOrderSpec("Фото очереди", "Сфотографируйте очередь у входа", "photo", 91, 37.61)
	assert.Error(t, err)

	err = ValidateOrderSpec("Фото очереди", "Сфотографируйте очередь у входа", "photo", 55.75, -181)
	assert.Error(t, err)
}

func TestValidateLength_CountsRunes(t *testing.T) {
	// Кириллица: длина считается в рунах, не в байтах.
	assert.NoError(t, ValidateLength("заголовок", "При", 3, 10))
	assert.Error(t, ValidateLength("заголовок", "Пр", 3, 10))
	assert.Error(t, ValidateLength("заголовок", strings.Repeat("я", 11), 3, 10))
}

func TestValidateEvidence(t *testing.T) {
	assert.NoError(t, ValidateEvidence(nil))
	assert.NoError(t, ValidateEvidence([]string{"https://cdn.example/a.jpg"}))

	assert.Error(t, ValidateEvidence([]string{""}))
	assert.Error(t, ValidateEvidence(make([]string, MaxEvidenceItems+1)))
	assert.Error(t, ValidateEvidence([]string{strings.Repeat("a", MaxEvidenceURILength+1)}))
}
