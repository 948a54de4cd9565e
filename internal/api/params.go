package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/utils"
)

// pathID 读取并校验路径中的 ID,不合法时直接写入 400 响应
func pathID(ctx *gin.Context, name string) (string, bool) {
	id := ctx.Param(name)
	if err := utils.ValidateID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid "+name, err.Error())
		return "", false
	}
	return id, true
}

// queryBool 解析布尔查询参数,无法解析时视为 false
func queryBool(ctx *gin.Context, key string) bool {
	v, err := strconv.ParseBool(ctx.Query(key))
	return err == nil && v
}

// queryInt 解析正整数查询参数
func queryInt(ctx *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(ctx.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
