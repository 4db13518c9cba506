package cookies

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"akash-router/internal/models"
)

// ErrSolverUnavailable is returned when no challenge helper is configured.
var ErrSolverUnavailable = errors.New("challenge solver not configured")

// Solver obtains a cookie set by passing the browser challenge on targetURL.
type Solver interface {
	Solve(ctx context.Context, targetURL string, timeout time.Duration) (models.CookieSet, error)
}

// CommandSolver delegates the challenge to an external browser-automation helper.
// The helper is invoked as
//
//	<command...> --url URL --initial-wait SECS --poll-interval SECS --max-wait SECS
//
// and must print the resulting cookies to stdout, either as a JSON object of
// name to value or as an array of {"name": ..., "value": ...} entries.
type CommandSolver struct {
	argv         []string
	initialWait  time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewCommandSolver parses command (whitespace separated) into a solver. An
// empty command yields nil.
func NewCommandSolver(command string, initialWait, pollInterval, maxWait time.Duration) *CommandSolver {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil
	}
	return &CommandSolver{
		argv:         argv,
		initialWait:  initialWait,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// Budget is the total time the helper may take: the initial wait plus the
// polling window, with a little slack for browser start-up.
func (s *CommandSolver) Budget() time.Duration {
	return s.initialWait + s.maxWait + 30*time.Second
}

// Solve runs the helper and parses its output.
func (s *CommandSolver) Solve(ctx context.Context, targetURL string, timeout time.Duration) (models.CookieSet, error) {
	if s == nil {
		return nil, ErrSolverUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, s.argv[1:]...),
		"--url", targetURL,
		"--initial-wait", seconds(s.initialWait),
		"--poll-interval", seconds(s.pollInterval),
		"--max-wait", seconds(s.maxWait),
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.argv[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("challenge helper timed out after %s: %w", timeout, ctx.Err())
		}
		return nil, fmt.Errorf("challenge helper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	set, ok := ParseCookieJSON(stdout.Bytes())
	if !ok {
		return nil, errors.New("challenge helper printed no cookies")
	}
	if set[models.CookieClearance] == "" {
		return set, fmt.Errorf("challenge helper did not obtain %s", models.CookieClearance)
	}
	return set, nil
}

// ParseCookieJSON accepts either {"name":"value",...} or [{"name":..,"value":..},...].
func ParseCookieJSON(data []byte) (models.CookieSet, bool) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, false
	}

	set := models.CookieSet{}
	result := gjson.ParseBytes(data)
	switch {
	case result.IsArray():
		result.ForEach(func(_, entry gjson.Result) bool {
			name := entry.Get("name").String()
			if name != "" {
				set[name] = entry.Get("value").String()
			}
			return true
		})
	case result.IsObject():
		result.ForEach(func(key, value gjson.Result) bool {
			if value.Type == gjson.String {
				set[key.String()] = value.String()
			}
			return true
		})
	default:
		return nil, false
	}

	return set, len(set) > 0
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
