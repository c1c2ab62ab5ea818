// Package storage はアップロードされたファイル本体の保存先を提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound は指定キーのオブジェクトが存在しない場合のエラー。
var ErrNotFound = errors.New("storage: object not found")

// ErrInvalidKey はキーが保存先の外を指す場合のエラー。
var ErrInvalidKey = errors.New("storage: invalid key")

// Storage はファイル本体の保存・読み出し・削除のインターフェース。
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ObjectKey はユーザーと日付で分割した保存キーを生成する。
// 形式: users/<userID>/<yyyy>/<mm>/<dd>/<uuid><拡張子>
func ObjectKey(userID, fileName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return path.Join("users", userID, now.Format("2006"), now.Format("01"), now.Format("02"), uuid.New().String()+ext)
}

// cleanKey はキーを正規化し、相対パスで保存先の内側を指すことを確認する。
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
