package sse

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeSSE 建立 SSE 长连接，按 X-Session-Id 订阅本 session 的任务完成事件
func ServeSSE(c *gin.Context) {
	topic := c.GetHeader("X-Session-Id")
	if topic == "" {
		topic = c.Query("session_id")
	}
	if topic == "" {
		c.String(http.StatusBadRequest, "missing session id")
		return
	}

	h := GetHub()
	if h == nil {
		c.String(http.StatusInternalServerError, "sse hub not initialized")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgCh := make(chan []byte, 16)
	h.Subscribe(msgCh, topic)
	defer h.Unsubscribe(msgCh, topic)

	// 初次握手 / 保活，部分代理需要
	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	notify := c.Request.Context().Done()
	for {
		select {
		case <-notify:
			return
		case msg := <-msgCh:
			fmt.Fprintf(c.Writer, "data: %s\n\n", string(msg))
			flusher.Flush()
		}
	}
}
