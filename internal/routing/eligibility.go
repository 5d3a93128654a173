package routing

import (
	"fmt"
	"regexp"

	"famsync/internal/config"
	"famsync/internal/models"
)

// Eligibility decides whether a local event may be pushed at all.
//
// An event is eligible when the allow list matches its source or summary and
// the deny list does not match its source. A deny match is overridden when
// the summary itself matches the activity list, so a personal calendar entry
// titled "Svante match" is still pushed.
type Eligibility struct {
	Allow    []*regexp.Regexp
	Deny     []*regexp.Regexp
	Activity []*regexp.Regexp
}

// NewEligibility compiles the rule lists as case-insensitive expressions.
func NewEligibility(rules config.Rules) (*Eligibility, error) {
	allow, err := compileAll("allow", rules.Allow)
	if err != nil {
		return nil, err
	}
	deny, err := compileAll("deny", rules.Deny)
	if err != nil {
		return nil, err
	}
	activity, err := compileAll("activity", rules.Activity)
	if err != nil {
		return nil, err
	}
	return &Eligibility{Allow: allow, Deny: deny, Activity: activity}, nil
}

func compileAll(list string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", list, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Eligible reports whether e may be pushed.
func (el *Eligibility) Eligible(e models.Event) bool {
	ok, _ := el.Check(e)
	return ok
}

// Check is Eligible with a short reason suitable for run reports.
func (el *Eligibility) Check(e models.Event) (bool, string) {
	if !el.AllowMatch(e) {
		return false, "no allow-list keyword"
	}
	if el.DenyMatch(e) && !el.ActivityOverride(e) {
		return false, "source is deny-listed"
	}
	return true, ""
}

// AllowMatch reports whether any allow pattern matches the source or summary.
func (el *Eligibility) AllowMatch(e models.Event) bool {
	return matchAny(el.Allow, e.Source) || matchAny(el.Allow, e.Summary)
}

// DenyMatch reports whether any deny pattern matches the source.
func (el *Eligibility) DenyMatch(e models.Event) bool {
	return matchAny(el.Deny, e.Source)
}

// ActivityOverride reports whether the summary carries an activity keyword.
func (el *Eligibility) ActivityOverride(e models.Event) bool {
	return matchAny(el.Activity, e.Summary)
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
