package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const defaultInstructions = `You are %s, a participant in a team chat workspace.
Answer concisely. Use the workspace tools when the user asks you to read, send or
organize messages, channels or sessions. Context blocks marked [Context from ...]
are transcripts the user attached; treat them as reference material.`

// Persona is an autonomous participant able to run turns.
// Persona 是能够执行对话轮次的自主参与者。
type Persona struct {
	UserID      int32
	Username    string
	DisplayName string
	// Instructions is the system prompt. Empty uses the built-in instructions.
	Instructions string
	// Model overrides the default generation model.
	Model string
}

// Name returns the display name, falling back to the username.
func (p *Persona) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// SystemPrompt returns the system prompt of the persona.
func (p *Persona) SystemPrompt() string {
	if strings.TrimSpace(p.Instructions) != "" {
		return p.Instructions
	}
	return fmt.Sprintf(defaultInstructions, p.Name())
}

// Directory indexes personas by participant id. It is safe for concurrent use.
// Directory 按参与者 ID 索引所有角色，支持并发访问。
type Directory struct {
	mu       sync.RWMutex
	personas map[int32]*Persona
}

// NewDirectory creates a directory holding the given personas.
func NewDirectory(personas ...*Persona) *Directory {
	d := &Directory{personas: make(map[int32]*Persona, len(personas))}
	for _, p := range personas {
		d.Add(p)
	}
	return d
}

// Add registers or replaces a persona.
func (d *Directory) Add(p *Persona) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.personas[p.UserID] = p
}

// Get returns the persona of a participant, or nil.
func (d *Directory) Get(userID int32) *Persona {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.personas[userID]
}

// List returns all personas ordered by participant id.
func (d *Directory) List() []*Persona {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make([]*Persona, 0, len(d.personas))
	for _, p := range d.personas {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
	return list
}
