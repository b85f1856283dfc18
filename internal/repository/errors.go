// Package repository implements the MySQL persistence for users and
// messages.  Sentinel errors let handlers tell failure modes apart.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrUsernameExists is returned when registering a taken username.
// Handlers translate it into an HTTP 409 response.
var ErrUsernameExists = errors.New("username already exists")

// ErrNotFound wraps sql.ErrNoRows for single-row lookups.
var ErrNotFound = errors.New("not found")

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
