// 文件: internal/api/routes.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegisterRoutes 注册所有API路由
func RegisterRoutes(handlers *APIHandlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// --- 中间件 (Middleware) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// 配置CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- API路由 ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks/ingest", handlers.HandleStartIngestTask)
		r.Get("/tasks/{taskId}", handlers.HandleGetTaskStatus)
		r.Delete("/tasks/{taskId}", handlers.HandleCancelTask)
		r.Get("/videos", handlers.HandleListVideos)
		r.Delete("/videos/{videoId}", handlers.HandleDeleteVideo)
		r.Post("/search/image", handlers.HandleSearchByImage)
		r.Get("/config", handlers.HandleGetConfig)
		r.Put("/config", handlers.HandleUpdateConfig)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
