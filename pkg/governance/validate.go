package governance

import (
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// ValidateWindow checks an execution window's weekdays, clock bounds,
// and timezone before it is persisted.
func ValidateWindow(window core.ExecutionWindow) error {
	if len(window.Weekdays) == 0 {
		return core.NewValidationFailure("execution window needs at least one weekday", nil)
	}
	for _, day := range window.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			return core.NewValidationFailure(fmt.Sprintf("invalid weekday %d in execution window", day), nil)
		}
	}
	if _, err := parseClock(window.StartTime); err != nil {
		return core.NewValidationFailure(fmt.Sprintf("invalid window start time %q", window.StartTime), err)
	}
	if _, err := parseClock(window.EndTime); err != nil {
		return core.NewValidationFailure(fmt.Sprintf("invalid window end time %q", window.EndTime), err)
	}
	if window.Timezone != "" {
		if _, err := time.LoadLocation(window.Timezone); err != nil {
			return core.NewValidationFailure(fmt.Sprintf("unknown timezone %q", window.Timezone), err)
		}
	}
	return nil
}

// CompileGuard parses guard Rego source, rejecting packs that would fail
// closed at execution time.
func CompileGuard(source string) error {
	if _, err := ast.ParseModule("guard", source); err != nil {
		return core.NewValidationFailure("guard rego does not parse", err)
	}
	return nil
}
