package template

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	apperrors "letter-stream-engine/pkg/errors"
)

//go:embed templates/*.json
var templatesFS embed.FS

var templateIDRe = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// StaticSource 内置模板来源（StaticFallback 模式）
type StaticSource struct {
	fsys fs.FS
}

// NewStaticSource 使用内置模板创建静态来源
func NewStaticSource() *StaticSource {
	return &StaticSource{fsys: templatesFS}
}

// NewStaticSourceFS 使用指定文件系统创建静态来源，文件布局为 templates/<id>.json
func NewStaticSourceFS(fsys fs.FS) *StaticSource {
	return &StaticSource{fsys: fsys}
}

// FetchTemplate 读取模板原始 JSON
func (s *StaticSource) FetchTemplate(_ context.Context, id string) ([]byte, error) {
	if !templateIDRe.MatchString(id) {
		return nil, apperrors.ErrTemplateNotFound.WithDetail(id)
	}
	b, err := fs.ReadFile(s.fsys, "templates/"+id+".json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.ErrTemplateNotFound.WithDetail(id)
		}
		return nil, err
	}
	return b, nil
}

// IDs 返回内置模板 ID 列表
func (s *StaticSource) IDs() []string {
	entries, err := fs.ReadDir(s.fsys, "templates")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids
}
