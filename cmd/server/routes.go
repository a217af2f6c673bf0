package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/histeeria/chatcore/internal/chat"
	"github.com/histeeria/chatcore/internal/gateway"
	"github.com/histeeria/chatcore/internal/obs"
	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

const defaultHistoryLimit = 50

// registerRoutes wires the WebSocket upgrade endpoint and the thin
// read-only HTTP surface over the Message Store named in §6 as out-of-core
// but required by collaborators.
func registerRoutes(r *gin.Engine, chatSvc *chat.Service, gw *gateway.Gateway, metrics *obs.Metrics) {
	r.GET("/ws", gw.HandleUpgrade)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/messages/:messageId", func(c *gin.Context) {
		messageID, err := uuid.Parse(c.Param("messageId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid message id"})
			return
		}

		msg, err := chatSvc.FindMessage(c.Request.Context(), messageID)
		if err != nil {
			appErr := apperrors.GetAppError(err)
			c.JSON(appErr.Code, gin.H{"message": appErr.Message})
			return
		}
		c.JSON(http.StatusOK, msg)
	})

	r.GET("/messages/history/:participantId", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "userId query parameter is required"})
			return
		}
		participantID := c.Param("participantId")

		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		var before *time.Time
		if raw := c.Query("lastTimestamp"); raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				t := time.UnixMilli(ms)
				before = &t
			}
		}

		history, err := chatSvc.ChatHistory(c.Request.Context(), userID, participantID, before, limit)
		if err != nil {
			appErr := apperrors.GetAppError(err)
			c.JSON(appErr.Code, gin.H{"message": appErr.Message})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": history})
	})
}
