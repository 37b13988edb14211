package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

// ProofStorage — файловое хранилище результатов съёмки (пруфов).
// Принимаются только настоящие фото и видео: тип определяется по
// сигнатуре файла, а не по расширению.
type ProofStorage struct {
	rootPath       string
	maxUploadBytes int64
}

// NewProofStorage создаёт хранилище пруфов.
func NewProofStorage(rootPath string, maxUploadMB int64) (*ProofStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}
	return &ProofStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// SaveProof сохраняет пруф и возвращает относительный путь и определённый
// тип контента ("photo" или "video").
func (s *ProofStorage) SaveProof(ctx context.Context, orderID uuid.UUID, originalName string, r io.Reader) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	// Сигнатуры хватает первых 262 байт.
	head := make([]byte, 262)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", "", fmt.Errorf("storage: не удалось прочитать файл: %w", err)
	}
	head = head[:n]

	kind, err := filetype.Match(head)
	if err != nil {
		return "", "", fmt.Errorf("storage: не удалось определить тип файла: %w", err)
	}

	var mediaType string
	switch {
	case filetype.IsImage(head):
		mediaType = "photo"
	case filetype.IsVideo(head):
		mediaType = "video"
	default:
		return "", "", fmt.Errorf("storage: тип %q не принимается, нужны фото или видео", kind.Extension)
	}

	safeName := sanitizeFilename(originalName)
	ext := filepath.Ext(safeName)
	if ext == "" {
		ext = "." + kind.Extension
	}
	fileName := fmt.Sprintf("%s_%d%s", orderID.String(), time.Now().UnixNano(), ext)

	orderDir := filepath.Join(s.rootPath, orderID.String())
	if err := os.MkdirAll(orderDir, 0o755); err != nil {
		return "", "", fmt.Errorf("storage: не удалось создать каталог заказа: %w", err)
	}

	targetPath := filepath.Join(orderDir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", "", fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	full := io.MultiReader(bytes.NewReader(head), r)
	limited := io.LimitedReader{R: full, N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limited)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("storage: размер файла превышает лимит %d байт", s.maxUploadBytes)
	}

	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", "", fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return filepath.Join(orderID.String(), fileName), mediaType, nil
}

// Delete удаляет пруф из хранилища.
func (s *ProofStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.rootPath, relativePath)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

// IsLiveCapable сообщает, поддерживает ли сигнатура потоковый контейнер.
// Для live заказов пруфом служит запись трансляции (mp4/webm).
func IsLiveCapable(head []byte) bool {
	return matchers.Mp4(head) || matchers.Webm(head)
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "proof"
	}
	return name
}
