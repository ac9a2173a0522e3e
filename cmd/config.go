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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pigwatch/pigwatch/config"
)

const redactedValue = "********"

func configCommands(b *pigwatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instances computed configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(redacted(*b.cnf))
		},
	}
	return cmd
}

// redacted masks credentials before the configuration is printed.
func redacted(cfg config.Configuration) config.Configuration {
	if cfg.Server.SecretKey != "" {
		cfg.Server.SecretKey = redactedValue
	}
	if cfg.Notification.Slack.WebhookUrl != "" {
		cfg.Notification.Slack.WebhookUrl = redactedValue
	}
	headers := make(map[string]string, len(cfg.Sender.Headers))
	for k := range cfg.Sender.Headers {
		headers[k] = redactedValue
	}
	cfg.Sender.Headers = headers
	return cfg
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("error printing output: %v", err)
	}
	fmt.Println(string(data))
	return nil
}
