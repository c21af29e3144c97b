package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.ServiceInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	s.router.POST("/detections", s.detectionHandler.Ingest)

	sources := s.router.Group("/sources")
	{
		sources.POST("/:id/disable", s.detectionHandler.DisableSource)
		sources.POST("/:id/enable", s.detectionHandler.EnableSource)
	}

	alerts := s.router.Group("/alerts")
	{
		alerts.GET("", s.alertHandler.List)
		alerts.GET("/:id", s.alertHandler.Get)
		alerts.POST("/:id/acknowledge", s.alertHandler.Acknowledge)
		alerts.POST("/:id/resolve", s.alertHandler.Resolve)
		alerts.POST("/:id/dismiss", s.alertHandler.Dismiss)
		alerts.POST("/:id/false-positive", s.alertHandler.MarkFalsePositive)
	}

	s.router.GET("/escalations", s.alertHandler.Escalations)

	rules := s.router.Group("/rules")
	{
		rules.GET("", s.ruleHandler.List)
		rules.POST("", s.ruleHandler.Create)
		rules.GET("/:id", s.ruleHandler.Get)
		rules.PUT("/:id", s.ruleHandler.Update)
		rules.DELETE("/:id", s.ruleHandler.Delete)
	}

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}
}
