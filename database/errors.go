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

package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
)

// ErrStoreBusy marks a store error that clears on its own, such as a locked
// SQLite database. Backends wrap their driver-specific busy errors with it.
var ErrStoreBusy = errors.New("store busy")

// IsTransient reports whether err is worth retrying against the store:
// lost connections, serialization failures, deadlocks and admin shutdowns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, ErrStoreBusy) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53":
			// connection exception, transaction rollback, insufficient resources
			return true
		}
		switch pqErr.Code.Name() {
		case "admin_shutdown", "crash_shutdown", "cannot_connect_now":
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
