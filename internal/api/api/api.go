package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"eventpulse/cmd/middleware"
	"eventpulse/internal/service"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.POST("/events", r.Service.CreateEvent)
	apiGroup.GET("/events", r.Service.GetAllEvents)
	apiGroup.GET("/events/:id", r.Service.GetInfo)
	apiGroup.POST("/events/:id/sessions", r.Service.CreateSession)
	apiGroup.POST("/events/:id/register", r.Service.Register)
	apiGroup.GET("/events/:id/analytics", r.Service.GetAnalytics)
	apiGroup.POST("/participants/:id/cancel", r.Service.Cancel)
	apiGroup.POST("/participants/:id/checkin", r.Service.CheckIn)
	apiGroup.POST("/participants/:id/checkout", r.Service.CheckOut)
	apiGroup.POST("/checkin", r.Service.CheckInByTicket)
	apiGroup.POST("/sessions/:id/rate", r.Service.RateSession)

	wsGroup := app.Group("/ws")
	wsGroup.GET("/events/:id", r.Service.WSEvent)
	wsGroup.GET("/sessions/:id", r.Service.WSSession)
	wsGroup.GET("/networking/:id", r.Service.WSNetworking)

	return app
}
