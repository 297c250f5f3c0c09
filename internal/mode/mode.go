// Package mode resolves which collaborator process a container runs.
//
// The decision is made once, from the RUN_MODE environment variable, and is
// total: every environment maps to exactly one RuntimeMode.
package mode

import (
	"fmt"
	"os"
)

const (
	// EnvVar is the environment variable consulted at container start.
	EnvVar = "RUN_MODE"

	// PipelineSentinel is the only value that selects Pipeline. Comparison is
	// exact and case-sensitive.
	PipelineSentinel = "pipeline"

	// AdvisoryPort is the inbound port declared to the hosting platform for the
	// web collaborator. Nothing here binds or reserves it.
	AdvisoryPort = 10000
)

// RuntimeMode selects one of the two collaborator processes.
type RuntimeMode int

const (
	// Web is the default mode.
	Web RuntimeMode = iota
	Pipeline
)

// All lists every RuntimeMode in declaration order.
var All = []RuntimeMode{Web, Pipeline}

func (m RuntimeMode) String() string {
	switch m {
	case Web:
		return "web"
	case Pipeline:
		return "pipeline"
	default:
		return fmt.Sprintf("RuntimeMode(%d)", int(m))
	}
}

// Parse maps a raw RUN_MODE value to a mode. It never fails.
func Parse(value string) RuntimeMode {
	if value == PipelineSentinel {
		return Pipeline
	}
	return Web
}

// Settings is the process-scoped configuration read once at start.
type Settings struct {
	Mode RuntimeMode
	// Raw is the unmodified RUN_MODE value; empty when unset.
	Raw  string
	// Set reports whether RUN_MODE was present in the environment at all.
	Set  bool
	Port int
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv performs the single read of RUN_MODE.
func FromEnv(lookup LookupFunc) Settings {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw, set := lookup(EnvVar)
	return Settings{
		Mode: Parse(raw),
		Raw:  raw,
		Set:  set,
		Port: AdvisoryPort,
	}
}

// FromMap is FromEnv over a fixed map, for callers that already hold the
// environment as key/value pairs.
func FromMap(env map[string]string) Settings {
	return FromEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
}
