package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facegate/internal/web/handlers"
	"github.com/kozaktomas/facegate/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	recognizeHandler := handlers.NewRecognizeHandler(s.deps.Pipeline, s.deps.Clock)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Machine, s.deps.Ledger, s.deps.Clock)
	systemHandler := handlers.NewSystemHandler(s.deps.Sync, s.deps.Info)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Kiosk routes: the camera client and the confirmation dialog.
		r.Post("/recognize", recognizeHandler.Recognize)
		r.Get("/pending", attendanceHandler.Pending)
		r.Get("/attendance/{identity}", attendanceHandler.Status)
		r.Post("/attendance/{identity}/confirm", attendanceHandler.Confirm)
		r.Post("/attendance/{identity}/cancel", attendanceHandler.Cancel)
		r.Get("/status", systemHandler.Status)

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(s.config.Web.OperatorToken))

			r.Post("/enrollments", recognizeHandler.Enroll)
			r.Post("/attendance/{identity}/force-checkin", attendanceHandler.ForceCheckIn)
			r.Post("/attendance/{identity}/force-checkout", attendanceHandler.ForceCheckOut)
			r.Post("/attendance/close-day", attendanceHandler.CloseDay)
			r.Get("/reports/attendance", attendanceHandler.List)
			r.Get("/reports/attendance/summary", attendanceHandler.Summary)
			r.Post("/sync", systemHandler.TriggerSync)
		})
	})
}
