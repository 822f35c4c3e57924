package rulebook

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

var whenEnv *cel.Env

func init() {
	env, err := cel.NewEnv()
	if err != nil {
		panic(fmt.Sprintf("rulebook: failed to create CEL environment: %v", err))
	}
	whenEnv = env
}

// ValidateWhen checks that a when clause parses under the expression
// grammar. Parse-only: identifiers are not resolved against any
// schema, so "x > 5" is valid even though x is undeclared.
func ValidateWhen(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return Invalid("when clause is empty")
	}

	_, issues := whenEnv.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return Invalid("invalid when clause: %v", issues.Err())
	}
	return nil
}
