package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// DefaultMaxExtractBytes は抽出時に読み込む最大バイト数の既定値。
const DefaultMaxExtractBytes int64 = 1 << 20

// Extractor はドキュメントから解析対象のテキストを取り出すインターフェース。
type Extractor interface {
	Extract(ctx context.Context, doc *model.Document) (string, error)
}

// ObjectOpener は保存済みオブジェクトを読み出すインターフェース。
// storage.Storage が満たす。
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageExtractor はストレージから本文を読み出してテキスト化する。
// テキスト系の形式は本文を、それ以外はファイルのメタデータを解析対象とする。
type StorageExtractor struct {
	store    ObjectOpener
	maxBytes int64
}

// NewStorageExtractor はStorageExtractorを生成する。
// maxBytesが0以下の場合はDefaultMaxExtractBytesを使用する。
func NewStorageExtractor(store ObjectOpener, maxBytes int64) *StorageExtractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxExtractBytes
	}
	return &StorageExtractor{store: store, maxBytes: maxBytes}
}

// Extract はドキュメントのテキストを返す。
func (e *StorageExtractor) Extract(ctx context.Context, doc *model.Document) (string, error) {
	mediaType := normalizeMediaType(doc.FileType)
	if !isTextual(mediaType) {
		return describe(doc), nil
	}

	rc, err := e.store.Open(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("failed to open stored document: %w", err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, e.maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read stored document: %w", err)
	}
	body = trimPartialRune(body)

	if mediaType == "text/html" {
		return visibleText(body), nil
	}
	return strings.ToValidUTF8(string(body), "�"), nil
}

func normalizeMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func isTextual(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/csv":
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}

// describe はテキスト化できない形式のためのメタデータ記述を返す。
func describe(doc *model.Document) string {
	return fmt.Sprintf("Document %q (%s, %d bytes)", doc.FileName, doc.FileType, doc.FileSize)
}

// trimPartialRune は上限で切れたマルチバイト文字を末尾から除去する。
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

// skipContent は本文として扱わない要素。
var skipContent = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// visibleText はHTMLから表示されるテキストだけを取り出す。
func visibleText(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var parts []string
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOFまたは不正なHTML。いずれもここまでのテキストを返す。
			return strings.Join(parts, " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipContent[string(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipContent[string(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(tokenizer.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

// compile-time interface check
var _ Extractor = (*StorageExtractor)(nil)
