package main

import (
	"callsense/internal/httpapi"
	"callsense/internal/rbac"
	"callsense/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	webhooks telephony.TwilioWebhookHandler
	api      httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers. No business logic here.
func registerRoutes(r *gin.Engine, d routeDeps) {
	r.GET("/healthz", d.api.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks are public; signature verification happens at the edge.
	r.POST("/webhooks/twilio/voice", d.webhooks.HandleVoice)
	r.POST(telephony.RecordingCallbackPath, d.webhooks.HandleRecording)
	r.POST("/twilio/recording-callback", d.webhooks.HandleRecording)

	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		callsGroup := v1.Group("/calls", httpapi.RequireCompanyAndAnyRole(rbac.RoleAgent)...)
		callsGroup.GET("", d.api.ListCalls)
		callsGroup.GET("/:id", d.api.GetCall)

		reports := v1.Group("/reports", httpapi.RequireCompanyAndAnyRole(rbac.RoleAgent)...)
		reports.GET("/calls-summary", d.api.CallsSummary)

		admin := v1.Group("/admin", httpapi.RequireCompanyAndAnyRole(rbac.RoleAdmin)...)
		admin.POST("/calls/:id/requeue", d.api.RequeueCall)
	}
}
