package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Chips(t *testing.T) {
	raw := "<p>" + MentionHTML(EntityReference{Category: CategoryChannel, TargetID: 3, Label: "general"}) +
		" " + CommandHTML("summarize", "Summarize the above.") + " please</p>"

	doc, err := Parse(raw)
	require.NoError(t, err)

	mentions := doc.Mentions()
	require.Len(t, mentions, 1)
	ref := mentions[0].Reference()
	assert.Equal(t, CategoryChannel, ref.Category)
	assert.Equal(t, int32(3), ref.TargetID)
	assert.Equal(t, "general", ref.Label)
	assert.True(t, ref.Resolvable())

	commands := doc.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "summarize", commands[0].Label())
	assert.Equal(t, "Summarize the above.", commands[0].Body())

	assert.Equal(t, "#general /summarize please", doc.PlainText())

	doc.RemoveCommands()
	doc.RemoveMentions()
	assert.Equal(t, "please", doc.PlainText())
	assert.Empty(t, doc.Commands())
}

func TestDocument_References(t *testing.T) {
	bob := EntityReference{Category: CategoryPerson, TargetID: 7, Label: "bob"}
	raw := MentionHTML(bob) + " and " + MentionHTML(bob) + " " +
		MentionHTML(EntityReference{Category: CategoryApp, TargetID: 1, Label: "calendar"})

	doc, err := Parse(raw)
	require.NoError(t, err)

	refs := doc.References()
	require.Len(t, refs, 2)
	assert.Equal(t, bob, refs[0])
	assert.False(t, refs[1].Resolvable())
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "  hello  ", want: "hello"},
		{name: "paragraphs", raw: "<p>one</p><p>two<br>three</p>", want: "one\ntwo\nthree"},
		{name: "entities", raw: "<p>a &amp; b</p>", want: "a & b"},
		{name: "person mention", raw: MentionHTML(EntityReference{Category: CategoryPerson, TargetID: 2, Label: "ann"}) + " hi", want: "@ann hi"},
		{name: "metadata stripped", raw: `<!--tool-status:[{"id":"1","name":"list_channels"}]--><p>done</p><!--sources:[]-->`, want: "done"},
		{name: "malformed metadata", raw: "<!--sources:{broken--><p>ok</p>", want: "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlainText(tt.raw))
		})
	}
}

func TestHasAnnotations(t *testing.T) {
	assert.False(t, HasAnnotations("<p>hello</p>"))
	assert.False(t, HasAnnotations("[Context from #general]\n[alice] (2024-01-01T00:00:00Z): hi"))
	assert.True(t, HasAnnotations(CommandHTML("x", "y")))
	assert.True(t, HasAnnotations(MentionHTML(EntityReference{Category: CategoryPerson, TargetID: 1, Label: "a"})))
}

func TestFromPlainText(t *testing.T) {
	assert.Equal(t, "", FromPlainText("   "))
	assert.Equal(t, "<p>a &lt;b&gt;</p><p>c</p>", FromPlainText("a <b>\nc"))
	assert.Equal(t, "a <b>\nc", PlainText(FromPlainText("a <b>\nc")))
}
