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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pigwatch/pigwatch/api"
	"github.com/pigwatch/pigwatch/config"
	trace "github.com/pigwatch/pigwatch/internal/traces"
)

const shutdownTimeout = 15 * time.Second

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initializeTracing(ctx context.Context, cfg *config.Configuration, component string) (trace.ShutdownFunc, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, fmt.Sprintf("%s-%s", cfg.ProjectName, component), cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func shutdownTracing(shutdown trace.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logrus.Errorf("error during tracing shutdown: %v", err)
	}
}

func initializeRouter(b *pigwatchInstance) (*gin.Engine, error) {
	a := api.NewAPI(b.pigwatch)
	if a == nil {
		return nil, errors.New("api configuration is not loaded")
	}
	return a.Router(), nil
}

// startServer serves router until ctx is cancelled, then drains in-flight requests.
func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting server on http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// serverCommands returns the command serving the operator API.
func serverCommands(b *pigwatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"start"},
		Short:   "start the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			shutdown, err := initializeTracing(ctx, b.cnf, "api")
			if err != nil {
				return err
			}
			defer shutdownTracing(shutdown)

			router, err := initializeRouter(b)
			if err != nil {
				return err
			}
			return startServer(ctx, router, b.cnf.Server)
		},
	}

	return cmd
}
