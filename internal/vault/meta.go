package vault

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Meta is the structured front matter of a vault note. Unknown fields
// are ignored; malformed front matter degrades to an empty Meta so a
// broken document never aborts an enumeration.
type Meta struct {
	ID         string    `yaml:"id,omitempty"`
	Title      string    `yaml:"title,omitempty"`
	Tags       []string  `yaml:"tags,omitempty"`
	Routine    bool      `yaml:"routine,omitempty"`
	Recurrence *RuleMeta `yaml:"recurrence,omitempty"`
	Scheduled  string    `yaml:"scheduled,omitempty"`
	Created    string    `yaml:"created,omitempty"`

	// Moved is a legacy one-off override of the task's anchor date
	// ("YYYY-MM-DD"). Kept for compatibility with old vaults.
	Moved string `yaml:"moved,omitempty"`
}

// RuleMeta is the front matter shape of a recurrence rule. Week values
// accept integers 1..5 or the string "last".
type RuleMeta struct {
	Kind     string `yaml:"kind"`
	Interval int    `yaml:"interval,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty"` // nil defaults to true
	Start    string `yaml:"start,omitempty"`
	End      string `yaml:"end,omitempty"`

	Weekday  *int  `yaml:"weekday,omitempty"`
	Weekdays []int `yaml:"weekdays,omitempty"`

	Week          *WeekValue  `yaml:"week,omitempty"`
	Weeks         []WeekValue `yaml:"weeks,omitempty"`
	MonthWeekday  *int        `yaml:"monthWeekday,omitempty"`
	MonthWeekdays []int       `yaml:"monthWeekdays,omitempty"`
}

// WeekValue is 1..5 or "last" in YAML; "last" maps to -1.
type WeekValue int

// UnmarshalYAML accepts either an integer or the string "last".
// Anything else is coerced to 0, which the rule normalizer drops.
func (w *WeekValue) UnmarshalYAML(node *yaml.Node) error {
	var asInt int
	if err := node.Decode(&asInt); err == nil {
		*w = WeekValue(asInt)
		return nil
	}
	var asStr string
	if err := node.Decode(&asStr); err == nil {
		if strings.EqualFold(strings.TrimSpace(asStr), "last") {
			*w = WeekValue(-1)
		} else {
			*w = 0
		}
		return nil
	}
	*w = 0
	return nil
}

const frontMatterFence = "---"

// splitFrontMatter separates a document into its front matter block and
// body. Documents without a leading fence have no front matter.
func splitFrontMatter(content string) (meta, body string) {
	if !strings.HasPrefix(content, frontMatterFence+"\n") && content != frontMatterFence {
		return "", content
	}
	rest := strings.TrimPrefix(content, frontMatterFence+"\n")
	end := strings.Index(rest, "\n"+frontMatterFence)
	if end < 0 {
		return "", content
	}
	meta = rest[:end]
	body = rest[end+len("\n"+frontMatterFence):]
	body = strings.TrimPrefix(body, "\n")
	return meta, body
}

// parseMeta decodes a front matter block. A decode failure returns the
// zero Meta and the error; callers log and continue with the zero value.
func parseMeta(block string) (Meta, error) {
	var m Meta
	if block == "" {
		return m, nil
	}
	if err := yaml.Unmarshal([]byte(block), &m); err != nil {
		return Meta{}, fmt.Errorf("parse front matter: %w", err)
	}
	return m, nil
}

// renderNote re-assembles a document from front matter and body.
func renderNote(m Meta, body string) (string, error) {
	out, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal front matter: %w", err)
	}
	var b strings.Builder
	b.WriteString(frontMatterFence + "\n")
	b.Write(out)
	b.WriteString(frontMatterFence + "\n")
	b.WriteString(body)
	return b.String(), nil
}
