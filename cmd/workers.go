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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pigwatch/pigwatch"
	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/internal/notifapi"
	"github.com/pigwatch/pigwatch/internal/notification"
	redlock "github.com/pigwatch/pigwatch/internal/lock"
	redis_db "github.com/pigwatch/pigwatch/internal/redis-db"
)

// worker is what both long-running loops expose to the command layer.
type worker interface {
	Start(ctx context.Context)
	Stop()
	RunOnce(ctx context.Context)
}

// runWorker runs a single tick with once set, otherwise loops until a signal arrives.
func runWorker(b *pigwatchInstance, component string, w worker, once bool) error {
	ctx, stop := signalContext()
	defer stop()

	shutdown, err := initializeTracing(ctx, b.cnf, component)
	if err != nil {
		return err
	}
	defer shutdownTracing(shutdown)

	if once {
		w.RunOnce(ctx)
		return nil
	}

	w.Start(ctx)
	<-ctx.Done()
	w.Stop()
	return nil
}

func processName(component string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return component
	}
	return component + "-" + host
}

// buildDetector attaches the Redis pig locks when Redis is configured. A
// detector without them is still correct, only less efficient when scaled out.
func buildDetector(b *pigwatchInstance) (*pigwatch.Detector, func(), error) {
	detector := b.pigwatch.NewDetector()
	if b.cnf.Redis.Dns == "" {
		logrus.Info("redis not configured, detector runs without pig locks")
		return detector, func() {}, nil
	}

	client, err := redis_db.NewRedisClient(redis_db.SplitAddresses(b.cnf.Redis.Dns), b.cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, nil, err
	}
	locks := redlock.NewPigLocks(client.Client(), processName("detector"), config.Seconds(b.cnf.Detector.PigLockTTLSec))
	logrus.WithField("owner", locks.Owner()).Info("pig locks enabled")
	closeFn := func() {
		if err := client.Close(); err != nil {
			logrus.Errorf("error closing redis client: %v", err)
		}
	}
	return detector.WithLocks(locks), closeFn, nil
}

func buildSender(b *pigwatchInstance) *pigwatch.Sender {
	cfg := b.cnf.Sender
	client := notifapi.NewClient(cfg.Endpoint, cfg.Headers, config.Seconds(cfg.RequestTimeoutSec))
	sender := b.pigwatch.NewSender(client).WithAlerts(notification.NewSlack(b.cnf.Notification.Slack.WebhookUrl))
	logrus.WithFields(logrus.Fields{
		"worker_id": sender.WorkerID(),
		"endpoint":  cfg.Endpoint,
	}).Info("sender configured")
	return sender
}

// detectorCommands defines the command running the detector loop.
func detectorCommands(b *pigwatchInstance) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "detector",
		Short: "turn pig telemetry into outbox notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			detector, closeFn, err := buildDetector(b)
			if err != nil {
				return err
			}
			defer closeFn()
			return runWorker(b, "detector", pigwatch.DetectorWorkerFrom(detector, b.cnf.Detector), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	return cmd
}

// senderCommands defines the command draining the outbox.
func senderCommands(b *pigwatchInstance) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sender",
		Short: "deliver approved outbox notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			if b.cnf.Sender.Endpoint == "" {
				logrus.Warn("sender endpoint is empty, every delivery will fail")
			}
			return runWorker(b, "sender", pigwatch.SenderWorkerFrom(buildSender(b), b.cnf.Sender), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	return cmd
}
