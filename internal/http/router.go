package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterPlateRoutes /plates/api/v1 下的全部路由交给 PlateHandler 分发
func (r *Router) RegisterPlateRoutes(h *PlateHandler) {
	r.HandleHandler(apiPrefix, h)
	r.HandleHandler(apiPrefix+"/", h)
}

// RegisterMetrics Prometheus 抓取端点
func (r *Router) RegisterMetrics(h http.Handler) {
	r.HandleHandler("/metrics", h)
}

// RegisterHealth 存活探针
func (r *Router) RegisterHealth() {
	r.Handle("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok"}))
	})
}
