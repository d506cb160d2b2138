package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/willpeters615/student-swap-sub000/middleware"
	"github.com/willpeters615/student-swap-sub000/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request to a websocket and registers
// the connection with the hub. The route must sit behind the auth
// middleware; the user id is taken from the request context.
func ServeWS(h *Hub, svc service.ConversationService, log *zap.SugaredLogger, c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnw("ws: upgrade failed", "user_id", userID, "error", err)
		return
	}
	client := newClient(h, conn, userID, svc, log)
	h.RegisterClient(client)
	go client.Serve()
}
