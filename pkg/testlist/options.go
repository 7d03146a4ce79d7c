package testlist

import (
	"sort"
	"strings"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/expr"
	"github.com/arccode/factory-sub002/pkg/i18n"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/value"
)

// Option names
const (
	OptAutoRunOnStart          = "auto_run_on_start"
	OptRetryFailedOnStart      = "retry_failed_on_start"
	OptClearStateOnStart       = "clear_state_on_start"
	OptStopOnFailure           = "stop_on_failure"
	OptUILocale                = "ui_locale"
	OptPhase                   = "phase"
	OptSkippedTests            = "skipped_tests"
	OptEngineeringPasswordSHA1 = "engineering_password_sha1"
	OptStrictIDs               = "strict_ids"
)

// Phases are the manufacturing phases skipped_tests may be keyed by.
var Phases = []string{"PROTO", "EVT", "DVT", "PVT_DOGFOOD", "PVT"}

// Options are the engine knobs of a test list.
type Options struct {
	AutoRunOnStart     bool
	RetryFailedOnStart bool
	ClearStateOnStart  bool
	StopOnFailure      bool
	UILocale           string
	Phase              string

	// SkippedTests maps a phase name or run_if expression to path patterns.
	SkippedTests map[string][]string

	EngineeringPasswordSHA1 string

	// StrictIDs makes sibling id collisions an error instead of suffixing.
	StrictIDs bool
}

// DefaultOptions returns the options used when a test list sets none.
func DefaultOptions() *Options {
	return &Options{
		AutoRunOnStart: true,
		UILocale:       i18n.DefaultLocale,
		SkippedTests:   map[string][]string{},
	}
}

// ParseOptions decodes the merged options section. "eval! " values are
// evaluated with only constants in scope.
func ParseOptions(raw value.Value, constants map[string]interface{}) (*Options, error) {
	o := DefaultOptions()
	ns := expr.Namespace{NameConstants: nonNilMap(constants)}

	for _, key := range raw.Keys() {
		field, _ := raw.Get(key)
		if src, ok := isEvalString(field); ok {
			v, err := expr.Eval(src, ns)
			if err != nil {
				return nil, core.ErrConfigSyntax.Errorf("option %s: %v", key, err).WithCause(err)
			}
			if field, err = value.FromInterface(v); err != nil {
				return nil, core.ErrConfigSyntax.Errorf("option %s: %v", key, err)
			}
		}
		if err := o.set(key, field); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Options) set(key string, v value.Value) error {
	bad := func(want string) error {
		return core.ErrConfigSyntax.Errorf("option %s must be %s, got %v", key, want, v)
	}
	boolField := func(dst *bool) error {
		b, ok := v.Bool()
		if !ok {
			return bad("a bool")
		}
		*dst = b
		return nil
	}

	switch key {
	case OptAutoRunOnStart:
		return boolField(&o.AutoRunOnStart)
	case OptRetryFailedOnStart:
		return boolField(&o.RetryFailedOnStart)
	case OptClearStateOnStart:
		return boolField(&o.ClearStateOnStart)
	case OptStopOnFailure:
		return boolField(&o.StopOnFailure)
	case OptStrictIDs:
		return boolField(&o.StrictIDs)
	case OptUILocale:
		s, ok := v.Str()
		if !ok {
			return bad("a string")
		}
		locale, err := i18n.CanonicalLocale(s)
		if err != nil {
			return core.ErrConfigSyntax.Errorf("option %s: %v", key, err)
		}
		o.UILocale = locale
	case OptPhase:
		if v.IsNull() {
			o.Phase = ""
			return nil
		}
		s, ok := v.Str()
		if !ok || !isPhase(s) {
			return bad("one of " + strings.Join(Phases, ", "))
		}
		o.Phase = s
	case OptEngineeringPasswordSHA1:
		if v.IsNull() {
			o.EngineeringPasswordSHA1 = ""
			return nil
		}
		s, ok := v.Str()
		if !ok {
			return bad("a string")
		}
		o.EngineeringPasswordSHA1 = s
	case OptSkippedTests:
		if !v.IsMapping() {
			return bad("an object")
		}
		skipped := make(map[string][]string)
		for _, k := range v.Keys() {
			patterns, err := stringList(v, k)
			if err != nil {
				return core.ErrConfigSyntax.Errorf("option %s.%s: %v", key, k, err)
			}
			if !isPhase(k) {
				if err := expr.Check(k, RunIfNames); err != nil {
					return core.ErrConfigSyntax.Errorf("option %s: key %q is neither a phase nor a valid condition", key, k).WithCause(err)
				}
			}
			skipped[k] = patterns
		}
		o.SkippedTests = skipped
	default:
		return core.ErrConfigSyntax.Errorf("unknown option %q", key)
	}
	return nil
}

// Namespace exposes the options to expressions as "options".
func (o *Options) Namespace() map[string]interface{} {
	skipped := make(map[string]interface{}, len(o.SkippedTests))
	for k, patterns := range o.SkippedTests {
		items := make([]interface{}, len(patterns))
		for i, p := range patterns {
			items[i] = p
		}
		skipped[k] = items
	}

	var phase interface{}
	if o.Phase != "" {
		phase = o.Phase
	}
	return map[string]interface{}{
		OptAutoRunOnStart:     o.AutoRunOnStart,
		OptRetryFailedOnStart: o.RetryFailedOnStart,
		OptClearStateOnStart:  o.ClearStateOnStart,
		OptStopOnFailure:      o.StopOnFailure,
		OptUILocale:           o.UILocale,
		OptPhase:              phase,
		OptSkippedTests:       skipped,
		OptStrictIDs:          o.StrictIDs,
	}
}

// SkipPatterns returns the skipped_tests patterns that apply in env.
// Phase keys apply when they name the current phase; any other key is a
// condition that applies when true, and false when it cannot be evaluated.
func (o *Options) SkipPatterns(env Env) []string {
	keys := make([]string, 0, len(o.SkippedTests))
	for k := range o.SkippedTests {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ns := expr.Namespace{
		NameConstants: nonNilMap(env.Constants),
		NameOptions:   nonNilMap(env.Options),
		NameDevice:    nonNilMap(env.Device),
		NameLocals:    map[string]interface{}{},
	}

	var out []string
	for _, k := range keys {
		if isPhase(k) {
			if k != o.Phase {
				continue
			}
		} else {
			v, err := expr.Eval(k, ns)
			if err != nil {
				logger.Warn("Evaluating skipped_tests condition %q failed: %v", k, err)
				continue
			}
			if !expr.Truthy(v) {
				continue
			}
		}
		out = append(out, o.SkippedTests[k]...)
	}
	return out
}

// MatchSkipPattern reports whether path is selected by pattern. A leading
// "*" matches any path ending with the rest of the pattern.
func MatchSkipPattern(pattern, path string) bool {
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(path, pattern[1:])
	}
	return pattern == path
}

func isPhase(s string) bool {
	for _, p := range Phases {
		if p == s {
			return true
		}
	}
	return false
}
