package websocket

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/moderation-gin/internal/auth"
	"github.com/mautops/moderation-gin/internal/moderation"
)

// NewUpgrader 创建升级器,allowedOrigins 为空或包含 "*" 时不校验 Origin
func NewUpgrader(allowedOrigins []string) *gorillaWS.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &gorillaWS.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

// WebSocketHandler 订阅审核事件的 WebSocket 入口
// 配置了 Keycloak 时从 token 参数认证,否则使用认证中间件写入的用户
// page_id 参数可重复或逗号分隔,只接收这些页面的事件
func WebSocketHandler(hub *Hub, validator *auth.KeycloakTokenValidator, upgrader *gorillaWS.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actor moderation.Actor
		if validator != nil {
			token := c.Query("token")
			if token == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "missing token"})
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "invalid token"})
				return
			}
			actor = claims.Actor()
		} else {
			var ok bool
			if actor, ok = moderation.ActorFromContext(c.Request.Context()); !ok {
				c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "unauthenticated"})
				return
			}
		}

		var pageIDs []string
		for _, v := range c.QueryArray("page_id") {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					pageIDs = append(pageIDs, id)
				}
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade 已写入错误响应
			return
		}

		client := NewClient(uuid.New().String(), actor.ID, hub, conn, pageIDs...)
		hub.Register <- client

		go client.ReadPump()
		go client.WritePump()
	}
}
