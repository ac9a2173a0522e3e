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

package datasources

import (
	"fmt"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
	"github.com/pigwatch/pigwatch/database/sqlite"
)

// NewDataSource opens the store selected by data_source.driver.
func NewDataSource(configuration *config.Configuration) (database.IDataSource, error) {
	switch configuration.DataSource.Driver {
	case config.DriverPostgres, "":
		return database.NewDataSource(configuration)
	case config.DriverSQLite:
		return sqlite.Open(configuration.DataSource.Dns, config.Seconds(configuration.Sender.StaleLockSec))
	default:
		return nil, fmt.Errorf("datasource driver %q not supported. Please use either %s or %s",
			configuration.DataSource.Driver, config.DriverPostgres, config.DriverSQLite)
	}
}
