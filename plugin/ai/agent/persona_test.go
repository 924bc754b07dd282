package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectory(t *testing.T) {
	scribe := &Persona{UserID: 3, Username: "scribe"}
	planner := &Persona{UserID: 2, Username: "planner", DisplayName: "Planner", Instructions: "Plan things."}
	d := NewDirectory(scribe, planner)

	assert.Same(t, scribe, d.Get(3))
	assert.Nil(t, d.Get(9))
	assert.Equal(t, []*Persona{planner, scribe}, d.List())

	assert.Equal(t, "Plan things.", planner.SystemPrompt())
	assert.True(t, strings.HasPrefix(scribe.SystemPrompt(), "You are scribe,"))
	assert.Equal(t, "Planner", planner.Name())
}
