package watch

import (
	"strings"

	"jiranotify/internal/jira"
	"jiranotify/internal/poller"
	"jiranotify/pkg/tgui"
)

// anonymousCreator is rendered when Jira reports no creator.
const anonymousCreator = "invisible human"

// Formatter renders issues as Telegram HTML messages.
type Formatter struct {
	// Host is the Jira host used to build deep links.
	Host string
	// LinkTemplate optionally overrides the deep link; see jira.BrowseURL.
	LinkTemplate string
}

func NewFormatter(host, linkTemplate string) Formatter {
	return Formatter{Host: host, LinkTemplate: linkTemplate}
}

// Format renders one issue. Optional lines (tags, priority) are omitted
// entirely when the field is empty.
func (f Formatter) Format(is poller.Issue) string {
	creator := strings.TrimSpace(is.Creator)
	if creator == "" {
		creator = anonymousCreator
	}

	lines := []tgui.H{
		tgui.B(is.Summary),
		tgui.Esc("From " + creator),
	}
	if tags := nonEmpty(is.Labels); len(tags) > 0 {
		lines = append(lines, tgui.Esc("Tags: "+strings.Join(tags, ", ")))
	}
	if p := strings.TrimSpace(is.Priority); p != "" {
		lines = append(lines, tgui.Esc("Priority "+p))
	}
	lines = append(lines, tgui.Esc(f.Link(is.Key)))
	return tgui.Lines(lines...).String()
}

// Link returns the deep link for an issue key.
func (f Formatter) Link(key string) string {
	return jira.BrowseURL(f.Host, f.LinkTemplate, key)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
