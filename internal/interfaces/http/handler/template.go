package handler

import (
	"github.com/gin-gonic/gin"

	"letter-stream-engine/internal/application/template"
	"letter-stream-engine/internal/interfaces/http/dto"
)

// TemplateHandler 模板缓存处理器
type TemplateHandler struct {
	cache *template.Cache
}

// NewTemplateHandler 创建模板处理器
func NewTemplateHandler(cache *template.Cache) *TemplateHandler {
	return &TemplateHandler{cache: cache}
}

// GetTemplate 解析模板（命中缓存或回源）
// @Summary 获取模板
// @Tags Templates
// @Produce json
// @Param id path string true "模板 ID"
// @Success 200 {object} dto.Response[dto.TemplateResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/templates/{id} [get]
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	rec, err := h.cache.Resolve(c.Request.Context(), dto.BindTemplateID(c))
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.TemplateResponse{
		ID:              rec.ID,
		Name:            rec.Name,
		InstructionBody: rec.InstructionBody,
		RoleText:        rec.RoleText,
		Temperature:     rec.Temperature,
		MaxTokens:       rec.MaxTokens,
		Version:         rec.Version,
		Placeholders:    template.Placeholders(rec.InstructionBody),
	})
}

// InvalidateTemplate 清除单个缓存模板
// @Summary 清除模板缓存
// @Tags Templates
// @Param id path string true "模板 ID"
// @Success 204
// @Router /v1/templates/{id} [delete]
func (h *TemplateHandler) InvalidateTemplate(c *gin.Context) {
	h.cache.Invalidate(c.Request.Context(), dto.BindTemplateID(c))
	dto.NoContent(c)
}

// InvalidateAll 清空模板缓存
// @Summary 清空模板缓存
// @Tags Templates
// @Success 204
// @Router /v1/templates [delete]
func (h *TemplateHandler) InvalidateAll(c *gin.Context) {
	h.cache.InvalidateAll(c.Request.Context())
	dto.NoContent(c)
}
