package dispatch

import (
	"strings"
	"time"

	"github.com/ytget/media-dispatch/internal/model"
	"github.com/ytget/media-dispatch/internal/template"
)

// Placeholder names available in the path template
const (
	VarAuthor     = "AUTHOR"
	VarID         = "ID"
	VarTitle      = "TITLE"
	VarNowTime    = "NowTime"
	VarUploadTime = "UploadTime"
)

// OutputPath fills the path template for item. It returns "" for an empty template.
func OutputPath(tmpl string, item *model.ResolvedItem, now time.Time) string {
	if strings.TrimSpace(tmpl) == "" {
		return ""
	}
	return template.Replace(tmpl, map[string]any{
		VarAuthor:     item.Author,
		VarID:         item.ID,
		VarTitle:      item.Title,
		VarNowTime:    model.NewTimestamp(now),
		VarUploadTime: model.NewTimestamp(item.CreatedAt),
	})
}

// SplitOutputPath splits a filled template into directory and file name.
// Both '/' and '\' separate segments. dir is empty when the path has no
// directory part; a root or drive prefix keeps its trailing separator.
func SplitOutputPath(p string) (dir, out string) {
	i := strings.LastIndexAny(p, `/\`)
	if i < 0 {
		return "", p
	}
	dir, out = p[:i], p[i+1:]
	if dir == "" || strings.HasSuffix(dir, ":") {
		dir = p[:i+1]
	}
	return dir, out
}
