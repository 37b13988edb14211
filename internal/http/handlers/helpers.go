package handlers

import "github.com/google/uuid"

// mustUUID разбирает UUID, уже прошедший binding-валидацию формата.
func mustUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}
