package template

import (
	"regexp"
)

// placeholderRe 匹配 {{name}}，允许花括号内两侧空白
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Substitute 将模板中的 {{name}} 替换为 vars[name]
// 缺失的变量替换为空串，不报错；单次线性扫描，替换结果不会被再次展开
func Substitute(tpl string, vars map[string]string) string {
	if tpl == "" {
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		return vars[sub[1]]
	})
}

// Placeholders 按出现顺序返回模板中的变量名（去重）
func Placeholders(tpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tpl, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// Missing 返回模板引用但 vars 中未提供的变量名
func Missing(tpl string, vars map[string]string) []string {
	var missing []string
	for _, name := range Placeholders(tpl) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
