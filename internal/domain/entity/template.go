// Package entity 定义领域实体
package entity

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// TemplateRecord 提示词模板记录
// 获取后不可变，缓存与调用方之间按值传递
type TemplateRecord struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	InstructionBody string  `json:"instructionBody"`
	RoleText        string  `json:"roleText"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"maxTokens"`
	Version         int     `json:"version"`
	IsActive        bool    `json:"isActive"`
}

// TemplateShapeError 模板结构校验失败
type TemplateShapeError struct {
	Field  string
	Reason string
}

func (e *TemplateShapeError) Error() string {
	return fmt.Sprintf("template field %q %s", e.Field, e.Reason)
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindInteger
	kindBool
)

var requiredTemplateFields = []struct {
	name string
	kind fieldKind
}{
	{"id", kindString},
	{"name", kindString},
	{"instructionBody", kindString},
	{"roleText", kindString},
	{"temperature", kindNumber},
	{"maxTokens", kindInteger},
	{"version", kindInteger},
	{"isActive", kindBool},
}

// ParseTemplateRecord 从后端原始 JSON 解析模板
// 只做必填字段存在性与基本类型检查；任何一项不满足都整体拒绝
func ParseTemplateRecord(raw []byte) (TemplateRecord, error) {
	if !gjson.ValidBytes(raw) {
		return TemplateRecord{}, &TemplateShapeError{Field: "$", Reason: "is not valid JSON"}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return TemplateRecord{}, &TemplateShapeError{Field: "$", Reason: "is not an object"}
	}

	for _, f := range requiredTemplateFields {
		v := doc.Get(f.name)
		if !v.Exists() {
			return TemplateRecord{}, &TemplateShapeError{Field: f.name, Reason: "is missing"}
		}
		if err := checkKind(f.name, v, f.kind); err != nil {
			return TemplateRecord{}, err
		}
	}

	rec := TemplateRecord{
		ID:              doc.Get("id").String(),
		Name:            doc.Get("name").String(),
		InstructionBody: doc.Get("instructionBody").String(),
		RoleText:        doc.Get("roleText").String(),
		Temperature:     doc.Get("temperature").Float(),
		MaxTokens:       int(doc.Get("maxTokens").Int()),
		Version:         int(doc.Get("version").Int()),
		IsActive:        doc.Get("isActive").Bool(),
	}
	if err := rec.Validate(); err != nil {
		return TemplateRecord{}, err
	}
	return rec, nil
}

func checkKind(name string, v gjson.Result, kind fieldKind) error {
	switch kind {
	case kindString:
		if v.Type != gjson.String {
			return &TemplateShapeError{Field: name, Reason: "must be a string"}
		}
	case kindNumber:
		if v.Type != gjson.Number {
			return &TemplateShapeError{Field: name, Reason: "must be a number"}
		}
	case kindInteger:
		if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) {
			return &TemplateShapeError{Field: name, Reason: "must be an integer"}
		}
	case kindBool:
		if v.Type != gjson.True && v.Type != gjson.False {
			return &TemplateShapeError{Field: name, Reason: "must be a boolean"}
		}
	}
	return nil
}

// Validate 校验语义约束
func (t TemplateRecord) Validate() error {
	if t.ID == "" {
		return &TemplateShapeError{Field: "id", Reason: "is empty"}
	}
	if t.InstructionBody == "" {
		return &TemplateShapeError{Field: "instructionBody", Reason: "is empty"}
	}
	if t.MaxTokens < 0 {
		return &TemplateShapeError{Field: "maxTokens", Reason: "is negative"}
	}
	if !t.IsActive {
		return &TemplateShapeError{Field: "isActive", Reason: "is false"}
	}
	return nil
}
