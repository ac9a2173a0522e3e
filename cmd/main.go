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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pigwatch/pigwatch"
	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
	"github.com/pigwatch/pigwatch/datasources"
	"github.com/pigwatch/pigwatch/internal/notification"
)

// Pigwatch represents the CLI application, encapsulating the root Cobra command.
type Pigwatch struct {
	cmd *cobra.Command
}

// pigwatchInstance holds what every command needs at runtime. It is filled by
// the persistent pre-run hook before any subcommand executes.
type pigwatchInstance struct {
	pigwatch   *pigwatch.Pigwatch
	datasource database.IDataSource
	cnf        *config.Configuration
	configFile string
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and opens the datasource before running any command.
func preRun(app *pigwatchInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(app.configFile)
		if err != nil {
			log.Fatal("error loading config: ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		db, p, err := setupPigwatch(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.pigwatch = p
		app.datasource = db
		app.cnf = cnf
		return nil
	}
}

// postRun closes the datasource once the command is done.
func postRun(app *pigwatchInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if app.datasource == nil {
			return nil
		}
		return app.datasource.Close()
	}
}

// setupPigwatch connects to the configured store and loads the reference tables.
func setupPigwatch(cfg *config.Configuration) (database.IDataSource, *pigwatch.Pigwatch, error) {
	db, err := datasources.NewDataSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	p, err := pigwatch.NewPigwatch(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("error creating pigwatch: %v", err)
	}
	return db, p, nil
}

// NewCLI creates the command-line interface with every subcommand attached.
func NewCLI() *Pigwatch {
	p := &pigwatchInstance{}

	var rootCmd = &cobra.Command{
		Use:           "pigwatch",
		Short:         "Pipeline pig tracking and notification delivery",
		Run:           func(cmd *cobra.Command, args []string) {},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&p.configFile, "config", "./pigwatch.json", "Configuration file for pigwatch")

	rootCmd.PersistentPreRunE = preRun(p)
	rootCmd.PersistentPostRunE = postRun(p)

	rootCmd.AddCommand(serverCommands(p))
	rootCmd.AddCommand(detectorCommands(p))
	rootCmd.AddCommand(senderCommands(p))
	rootCmd.AddCommand(migrateCommands(p))
	rootCmd.AddCommand(approvalCommands(p))
	rootCmd.AddCommand(pigCommands(p))
	rootCmd.AddCommand(seedCommands(p))
	rootCmd.AddCommand(configCommands(p))

	return &Pigwatch{cmd: rootCmd}
}

func (w Pigwatch) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
