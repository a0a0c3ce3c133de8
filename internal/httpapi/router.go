// Package httpapi exposes the service's HTTP surface: the task verification
// callback, the health probe, and the adherence export.
package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
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

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterTaskRoutes 注册延迟任务回调路由
func (r *Router) RegisterTaskRoutes(v *VerifyHandler) {
	r.Handle("/tasks/api/v1/verify-dose", v.VerifyDose)
}

// RegisterDataRoutes 注册数据导出路由
func (r *Router) RegisterDataRoutes(e *AdherenceExportHandler) {
	r.Handle("/data/api/v1/adherence/export", e.Export)
}

// RegisterHealthRoutes 注册健康检查路由
func (r *Router) RegisterHealthRoutes(h *HealthHandler) {
	r.Handle("/tasks/api/v1/health", h.Health)
}
