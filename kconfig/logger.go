package kconfig

import (
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// ParseLevel accepts the names logiface.Level.String returns, plus a few
// common aliases. "disabled" and "off" turn logging off.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case `disabled`, `off`, `none`:
		return logiface.LevelDisabled, nil
	case `emerg`, `emergency`:
		return logiface.LevelEmergency, nil
	case `alert`:
		return logiface.LevelAlert, nil
	case `crit`, `critical`:
		return logiface.LevelCritical, nil
	case `err`, `error`:
		return logiface.LevelError, nil
	case `warning`, `warn`:
		return logiface.LevelWarning, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `info`, `informational`, ``:
		return logiface.LevelInformational, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case `trace`:
		return logiface.LevelTrace, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
	}
}

// Logger builds a JSON lines logger writing to w.
func (c *LogConfig) Logger(w io.Writer) (*logiface.Logger[logiface.Event], error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	stumpyOpts := []stumpy.Option{stumpy.WithWriter(w)}
	if c.Timestamps {
		stumpyOpts = append(stumpyOpts, stumpy.WithTimeField(`time`))
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpyOpts...),
		stumpy.L.WithLevel(level),
	).Logger(), nil
}
