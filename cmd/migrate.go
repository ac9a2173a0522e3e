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

/*
Package main provides the CLI commands for managing database migrations.
Postgres runs the embedded sql/ files through sql-migrate; SQLite applies its
own schema on open, so only down has anything left to do there.
*/

package main

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/pigwatch/pigwatch"
	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
	"github.com/pigwatch/pigwatch/database/sqlite"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(b *pigwatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply or roll back the schema",
	}

	cmd.AddCommand(migrateDirectionCommand(b, "up", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(b, "down", migrate.Down))

	return cmd
}

func migrateDirectionCommand(b *pigwatchInstance, use string, dir migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := runMigrations(b, dir)
			if err != nil {
				return fmt.Errorf("error migrating %s: %v", use, err)
			}
			if dir == migrate.Up {
				fmt.Printf("Applied %d migrations!\n", n)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
			return nil
		},
	}
}

func runMigrations(b *pigwatchInstance, dir migrate.MigrationDirection) (int, error) {
	if b.cnf.DataSource.Driver == config.DriverSQLite {
		ds, ok := b.datasource.(*sqlite.Datasource)
		if !ok {
			return 0, fmt.Errorf("unexpected sqlite datasource %T", b.datasource)
		}
		return sqlite.Migrate(ds.Conn, dir)
	}

	migrations := migrate.EmbedFileSystemMigrationSource{
		FileSystem: pigwatch.SQLFiles,
		Root:       "sql",
	}
	ds, ok := b.datasource.(*database.Datasource)
	if !ok {
		return 0, fmt.Errorf("unexpected postgres datasource %T", b.datasource)
	}
	return migrate.Exec(ds.Conn, "postgres", migrations, dir)
}
