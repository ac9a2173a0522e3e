/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pigwatch/pigwatch"
	"github.com/pigwatch/pigwatch/api/middleware"
	"github.com/pigwatch/pigwatch/config"
)

const healthTimeout = 3 * time.Second

type Api struct {
	pigwatch *pigwatch.Pigwatch
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/health", a.Health)

	router.GET("/notifications", a.ListNotifications)
	router.GET("/notifications/:id", a.GetNotification)

	router.GET("/approvals", a.ListApprovals)
	router.POST("/approvals/:id", a.DecideApproval)
	router.PUT("/approvals/:id/external-ref", a.SetExternalRef)

	router.GET("/pigs/:id/state", a.GetPigState)
	router.POST("/pigs/:id/reset", a.ResetPig)
	return a.router
}

// NewAPI builds the operator API. It returns nil when no configuration is loaded.
func NewAPI(p *pigwatch.Pigwatch) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{pigwatch: p, router: r}
}

func (a Api) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := a.pigwatch.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
