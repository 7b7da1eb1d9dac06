package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterMetricsRoute 以 Prometheus 文本格式暴露指标
func RegisterMetricsRoute(r gin.IRoutes, path string, gatherer prometheus.Gatherer) {
	if path == "" {
		path = "/metrics"
	}
	r.GET(path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
