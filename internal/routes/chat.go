package routes

import (
	"github.com/Ash564738/DoctorAppointment-sub003/internal/handlers"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterChatRoutes(r gin.IRouter, h *handlers.ChatHandler) {
	chat := r.Group("/chat")
	chat.Use(middleware.AuthMiddleware())
	{
		chat.POST("/rooms/context/:contextId", h.ResolveContextRoom)
		chat.POST("/rooms/direct", h.ResolveDirectRoom)
		chat.GET("/rooms", h.ListRooms)
		chat.GET("/rooms/:roomId/messages", h.GetMessages)
		chat.POST("/rooms/:roomId/read", middleware.ChatRateLimit(), h.MarkRead)
		chat.POST("/rooms/:roomId/attachments", middleware.UploadRateLimit(), h.UploadAttachment)
		chat.PATCH("/rooms/:roomId/close", h.CloseRoom)

		chat.GET("/attachments/:attachmentId/download", h.DownloadAttachment)
	}
}
