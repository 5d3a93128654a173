package routing

import (
	"regexp"
	"strings"

	"famsync/internal/config"
	"famsync/internal/models"
)

var namePrefix = regexp.MustCompile(`^\s*(\p{L}[\p{L}\p{M}' -]*?)\s*:`)

type member struct {
	name    string
	pattern *regexp.Regexp
}

// Classifier decides which remote calendar an event belongs on.
// Anything ambiguous goes to the shared family calendar.
type Classifier struct {
	personA string
	personB string
	members []member
}

// NewClassifier builds a classifier for the given household.
func NewClassifier(h config.Household) *Classifier {
	c := &Classifier{
		personA: strings.TrimSpace(h.PersonA),
		personB: strings.TrimSpace(h.PersonB),
	}
	seen := make(map[string]bool)
	for _, name := range append([]string{h.PersonA, h.PersonB}, h.Members...) {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		c.members = append(c.members, member{
			name:    name,
			pattern: regexp.MustCompile(`(?i)(^|[^\p{L}])` + regexp.QuoteMeta(name) + `([^\p{L}]|$)`),
		})
	}
	return c
}

// Classify returns the routing target for e.
func (c *Classifier) Classify(e models.Event) models.Target {
	people := c.Persons(e)
	if len(people) != 1 {
		return models.TargetFamily
	}
	person := people[0]

	target, ok := c.privateTarget(person)
	if !ok {
		return models.TargetFamily
	}
	if c.referencesOther(e.Summary, person) {
		return models.TargetFamily
	}
	return target
}

// Persons returns the relevant people for e: its assignees, or for legacy
// events without assignees, a known household name in a "Name:" summary prefix.
func (c *Classifier) Persons(e models.Event) []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range e.Assignees {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	if len(out) > 0 {
		return out
	}

	m := namePrefix.FindStringSubmatch(e.Summary)
	if m == nil {
		return nil
	}
	if name, ok := c.known(m[1]); ok {
		return []string{name}
	}
	return nil
}

func (c *Classifier) privateTarget(person string) (models.Target, bool) {
	switch {
	case c.personA != "" && strings.EqualFold(person, c.personA):
		return models.TargetPersonA, true
	case c.personB != "" && strings.EqualFold(person, c.personB):
		return models.TargetPersonB, true
	}
	return "", false
}

func (c *Classifier) known(name string) (string, bool) {
	for _, m := range c.members {
		if strings.EqualFold(m.name, strings.TrimSpace(name)) {
			return m.name, true
		}
	}
	return "", false
}

// referencesOther reports whether any household member other than person is
// named in the summary.
func (c *Classifier) referencesOther(summary, person string) bool {
	for _, m := range c.members {
		if strings.EqualFold(m.name, person) {
			continue
		}
		if m.pattern.MatchString(summary) {
			return true
		}
	}
	return false
}
