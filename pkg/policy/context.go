// Package policy implements the information-flow-control policy layer: the
// mapping from confidentiality/integrity requirements to the minimum
// execution Context a module must run in, and the Validated capability
// token a module invocation must hold before a guest is ever instantiated.
package policy

import (
	"fmt"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
)

// Environment identifies an execution environment a module can run in,
// ordered from least to most isolated/private. Server is the baseline
// confidential-compute environment; WebBrowser is the more isolated end,
// the one a stricter policy requirement demands.
type Environment int

const (
	Server Environment = iota
	WebBrowser
)

var environmentNames = [...]string{"server", "web_browser"}

func (e Environment) String() string {
	if int(e) < 0 || int(e) >= len(environmentNames) {
		return "unknown"
	}
	return environmentNames[e]
}

// ParseEnvironment resolves a wire/config string to an Environment.
func ParseEnvironment(s string) (Environment, error) {
	for i, name := range environmentNames {
		if name == s {
			return Environment(i), nil
		}
	}
	return 0, modrunerrors.InvalidEnvironment(s)
}

// Context describes the execution environment a module is actually running
// in. A Policy maps label requirements to the minimum Context that
// satisfies them; at invocation time the runtime's actual Context is
// checked against that minimum.
type Context struct {
	Environment Environment
}

// Validate reports whether actual meets or exceeds c as a minimum
// requirement: actual.Environment must be no less isolated than c's.
func (c Context) Validate(actual Context) error {
	if c.Environment > actual.Environment {
		return modrunerrors.InvalidEnvironment(fmt.Sprintf("requires at least %s, got %s", c.Environment, actual.Environment))
	}
	return nil
}
