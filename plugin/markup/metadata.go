package markup

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	markerToolStatus = "tool-status"
	markerSources    = "sources"
)

var (
	metadataPattern = regexp.MustCompile(`(?s)<!--(tool-status|sources):(.*?)-->`)
	citationPattern = regexp.MustCompile(`\[(\d+)\]`)
)

// ToolStatus is the persisted state of one tool invocation.
type ToolStatus struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Result    any             `json:"result,omitempty"`
}

// Source is a citation attached to generated text.
// StartIndex and EndIndex are rune offsets into the visible text.
type Source struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
}

// Metadata holds the non-visual blocks embedded in a message.
type Metadata struct {
	ToolStatus []ToolStatus
	Sources    []Source
}

// Empty reports whether no metadata was found.
func (m *Metadata) Empty() bool {
	return m == nil || (len(m.ToolStatus) == 0 && len(m.Sources) == 0)
}

// ExtractMetadata removes metadata markers from raw and decodes them.
// Blocks that fail to decode are dropped.
func ExtractMetadata(raw string) (string, *Metadata) {
	meta := &Metadata{}
	if !strings.Contains(raw, "<!--") {
		return raw, meta
	}
	visible := metadataPattern.ReplaceAllStringFunc(raw, func(block string) string {
		match := metadataPattern.FindStringSubmatch(block)
		switch match[1] {
		case markerToolStatus:
			var list []ToolStatus
			if err := json.Unmarshal([]byte(match[2]), &list); err != nil {
				slog.Debug("skipping malformed tool-status block", "error", err)
				return ""
			}
			meta.ToolStatus = append(meta.ToolStatus, list...)
		case markerSources:
			var list []Source
			if err := json.Unmarshal([]byte(match[2]), &list); err != nil {
				slog.Debug("skipping malformed sources block", "error", err)
				return ""
			}
			meta.Sources = append(meta.Sources, list...)
		}
		return ""
	})
	return visible, meta
}

// RenderToolStatus encodes a tool-status marker. An empty list renders nothing.
func RenderToolStatus(list []ToolStatus) string {
	return renderMarker(markerToolStatus, list, len(list))
}

// RenderSources encodes a sources marker. An empty list renders nothing.
func RenderSources(list []Source) string {
	return renderMarker(markerSources, list, len(list))
}

func renderMarker(kind string, v any, n int) string {
	if n == 0 {
		return ""
	}
	// json.Marshal escapes '<' and '>' so a payload can never close the comment.
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to encode metadata block", "kind", kind, "error", err)
		return ""
	}
	return "<!--" + kind + ":" + string(data) + "-->"
}

type citation struct {
	offset int
	marker string
}

// AnnotateCitations inserts [n] markers at the end offset of each source,
// where n is the 1-based source position. Insertion runs from the highest
// offset to the lowest so earlier offsets stay valid.
func AnnotateCitations(text string, sources []Source) string {
	citations := citationsFor(text, sources)
	if len(citations) == 0 {
		return text
	}
	runes := []rune(text)
	for _, c := range citations {
		runes = append(runes[:c.offset], append([]rune(c.marker), runes[c.offset:]...)...)
	}
	return string(runes)
}

// StripCitationMarkers removes the [n] markers that AnnotateCitations would
// add for sources. Text without sources is returned unchanged.
func StripCitationMarkers(text string, sources []Source) string {
	if len(citationsFor(text, sources)) == 0 {
		return text
	}
	return citationPattern.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n < 1 || n > len(sources) || sources[n-1].EndIndex == nil {
			return m
		}
		return ""
	})
}

func citationsFor(text string, sources []Source) []citation {
	if len(sources) == 0 {
		return nil
	}
	length := len([]rune(text))
	var citations []citation
	for i, s := range sources {
		if s.EndIndex == nil || *s.EndIndex < 0 || *s.EndIndex > length {
			continue
		}
		citations = append(citations, citation{offset: *s.EndIndex, marker: "[" + strconv.Itoa(i+1) + "]"})
	}
	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].offset > citations[j].offset
	})
	return citations
}
