// internal/api/websocket.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Corphon/ContinuityTrackerMCP/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ChangeFeedHandler 剧集变更的WebSocket推送
// 每个连接订阅变更流，仅转发目标剧集的变更描述
func ChangeFeedHandler(feed *services.ChangeFeed, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		productionID := c.Param("id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("WebSocket升级失败")
			return
		}

		subscriberID := uuid.New().String()
		changes := feed.Subscribe(subscriberID)

		// 读循环只负责响应ping/pong和感知断连
		go func() {
			defer feed.Unsubscribe(subscriberID)

			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer func() {
				ticker.Stop()
				_ = conn.Close()
			}()

			for {
				select {
				case change, ok := <-changes:
					if !ok {
						_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
						_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
						return
					}
					if change.ProductionID != productionID {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteJSON(change); err != nil {
						return
					}
				case <-ticker.C:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()
	}
}
