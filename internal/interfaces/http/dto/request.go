package dto

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"letter-stream-engine/internal/domain/repository"
)

// BindPage 读取 page/page_size 查询参数；无法解析时按缺省处理
func BindPage(c *gin.Context) repository.Pagination {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	return repository.NewPagination(page, size)
}

// BindTargetID 路径中的目标文档 ID
func BindTargetID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("tid"))
}

// BindTemplateID 路径中的模板 ID
func BindTemplateID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}
