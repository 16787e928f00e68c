package mysql

import (
	"strings"
	"time"

	"github.com/mickamy/mysqlfaultproxy/config"
)

// delayFor returns the configured DELAY_<FIRST_WORD> sleep for a COM_QUERY,
// keyed off the query's first whitespace-delimited token upper-cased
// ("SELECT", "INSERT", ...). Any other command is never delayed.
func delayFor(cmd Command) (time.Duration, bool) {
	if cmd.Code != ComQuery {
		return 0, false
	}
	fields := strings.Fields(cmd.Query())
	if len(fields) == 0 {
		return 0, false
	}
	return config.DelayFor(strings.ToUpper(fields[0]))
}
