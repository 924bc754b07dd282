package autoreply

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// AffinityRule affiliates an autonomous participant with channels.
type AffinityRule struct {
	ParticipantID int32
	// Channels are channel names, with or without the leading '#'.
	Channels []string
	// When is an optional CEL condition over channel, sender and text.
	When string
}

// affinity is a compiled AffinityRule.
type affinity struct {
	participantID int32
	channels      map[string]bool
	condition     cel.Program
}

var conditionEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("channel", cel.StringType),
		cel.Variable("sender", cel.StringType),
		cel.Variable("text", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create condition environment: %v", err))
	}
	conditionEnv = env
}

// CompileCondition checks that expr is a boolean CEL expression.
func CompileCondition(expr string) (cel.Program, error) {
	ast, issues := conditionEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %v", expr, ast.OutputType())
	}
	program, err := conditionEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build condition %q: %w", expr, err)
	}
	return program, nil
}

func compileRules(rules []*AffinityRule) ([]*affinity, error) {
	compiled := make([]*affinity, 0, len(rules))
	for _, rule := range rules {
		a := &affinity{
			participantID: rule.ParticipantID,
			channels:      make(map[string]bool, len(rule.Channels)),
		}
		for _, name := range rule.Channels {
			if key := channelKey(name); key != "" {
				a.channels[key] = true
			}
		}
		if strings.TrimSpace(rule.When) != "" {
			program, err := CompileCondition(rule.When)
			if err != nil {
				return nil, err
			}
			a.condition = program
		}
		compiled = append(compiled, a)
	}
	return compiled, nil
}

// matches reports whether the rule fires for a message in channel.
// A condition that fails to evaluate does not fire.
func (a *affinity) matches(channel, sender, text string) (bool, error) {
	if !a.channels[channelKey(channel)] {
		return false, nil
	}
	if a.condition == nil {
		return true, nil
	}
	out, _, err := a.condition.Eval(map[string]any{
		"channel": channel,
		"sender":  sender,
		"text":    text,
	})
	if err != nil {
		return false, err
	}
	ok, _ := out.Value().(bool)
	return ok, nil
}

func channelKey(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}
