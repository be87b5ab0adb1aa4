package middleware

import (
	"github.com/gin-gonic/gin"
)

// RouteOpt 单个路由的额外中间件
type RouteOpt struct {
	Middlewares []gin.HandlerFunc
}

func (o RouteOpt) chain(handler gin.HandlerFunc) []gin.HandlerFunc {
	hs := make([]gin.HandlerFunc, 0, len(o.Middlewares)+1)
	hs = append(hs, o.Middlewares...)
	return append(hs, handler)
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}
