package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chorus/store"
)

func TestPlaceholder_SubscriberSeesLatest(t *testing.T) {
	p := NewPlaceholder()
	updates, stop := p.Subscribe()
	defer stop()

	first := <-updates
	assert.Equal(t, PlaceholderStreaming, first.State)
	assert.Empty(t, first.Content)

	p.Publish("a")
	p.Publish("ab")
	p.Publish("abc")
	latest := <-updates
	assert.Equal(t, "abc", latest.Content)

	p.MarkSaved(&store.Message{ID: 7, Content: "<p>abc</p>"})
	final, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, PlaceholderSaved, final.State)
	assert.Equal(t, int32(7), final.Message.ID)
	_, ok = <-updates
	assert.False(t, ok)
}

func TestPlaceholder_SettledIsImmutable(t *testing.T) {
	p := NewPlaceholder()
	p.Publish("draft")
	p.MarkUnsaved()
	p.Publish("later")
	p.Remove()

	assert.Equal(t, PlaceholderUnsaved, p.State())
	assert.Equal(t, "draft", p.Content())

	updates, _ := p.Subscribe()
	u, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, PlaceholderUnsaved, u.State)
	_, ok = <-updates
	assert.False(t, ok)
}

func TestPlaceholder_RemoveDropsContent(t *testing.T) {
	p := NewPlaceholder()
	updates, stop := p.Subscribe()
	p.Publish("partial")
	p.Remove()
	stop()

	var last PlaceholderUpdate
	for u := range updates {
		last = u
	}
	assert.Equal(t, PlaceholderRemoved, last.State)
	assert.Empty(t, last.Content)
}

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		`"Planning the Q3 offsite"`:               "Planning the Q3 offsite",
		"Title: Budget review.\nExtra line":       "Budget review",
		"one two three four five six seven eight": "one two three four five six",
		"  **Release checklist!**  ":              "Release checklist",
	}
	for raw, want := range tests {
		assert.Equal(t, want, cleanTitle(raw), raw)
	}
}
