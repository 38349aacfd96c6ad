package db

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the SQLCipher driver with the REGEXP operator wired in.
	SQLiteDriverName = "sqlite3_scenarios"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// SQLite rewrites "x REGEXP y" to regexp(y, x).
			if err := conn.RegisterFunc("regexp", sqliteRegexp, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register regexp SQL function: %w", err)
			}
			return nil
		},
	})
}

var (
	regexpCache   = make(map[string]*regexp.Regexp)
	regexpCacheMu sync.Mutex
)

func sqliteRegexp(pattern, value string) (bool, error) {
	regexpCacheMu.Lock()
	re, ok := regexpCache[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			regexpCacheMu.Unlock()
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		regexpCache[pattern] = re
	}
	regexpCacheMu.Unlock()
	return re.MatchString(value), nil
}
