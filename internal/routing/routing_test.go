package routing

import (
	"testing"

	"famsync/internal/config"
	"famsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func household() config.Household {
	return config.Household{
		PersonA: "Svante",
		PersonB: "Sarah",
		Members: []string{"Algot", "Tuva"},
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(household())

	testCases := []struct {
		name  string
		event models.Event
		want  models.Target
	}{
		{
			name:  "no assignees is the whole family",
			event: models.Event{Summary: "Middag hos mormor"},
			want:  models.TargetFamily,
		},
		{
			name:  "single parent goes private",
			event: models.Event{Assignees: []string{"Svante"}, Summary: "Tandläkare"},
			want:  models.TargetPersonA,
		},
		{
			name:  "second parent goes private",
			event: models.Event{Assignees: []string{"sarah"}, Summary: "Yoga"},
			want:  models.TargetPersonB,
		},
		{
			name:  "mixed assignees go shared",
			event: models.Event{Assignees: []string{"Svante", "Algot"}},
			want:  models.TargetFamily,
		},
		{
			name:  "child named in summary overrides private",
			event: models.Event{Assignees: []string{"Svante"}, Summary: "Algot match"},
			want:  models.TargetFamily,
		},
		{
			name:  "single child goes shared",
			event: models.Event{Assignees: []string{"Algot"}, Summary: "Handbollsträning"},
			want:  models.TargetFamily,
		},
		{
			name:  "legacy name prefix",
			event: models.Event{Summary: "Svante: Tandläkare"},
			want:  models.TargetPersonA,
		},
		{
			name:  "unknown name prefix is ignored",
			event: models.Event{Summary: "Viktigt: Tandläkare"},
			want:  models.TargetFamily,
		},
		{
			name:  "name inside another word is not a reference",
			event: models.Event{Assignees: []string{"Svante"}, Summary: "Tuvans skola"},
			want:  models.TargetPersonA,
		},
		{
			name:  "duplicate assignee counts once",
			event: models.Event{Assignees: []string{"Svante", "svante"}},
			want:  models.TargetPersonA,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.event))
		})
	}
}

func TestEligibility_KeywordOverride(t *testing.T) {
	el, err := NewEligibility(config.Default().Rules)
	require.NoError(t, err)

	ok, reason := el.Check(models.Event{Source: "Svante (Privat)", Summary: "Styrelsemöte"})
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	assert.True(t, el.Eligible(models.Event{Source: "Svante (Privat)", Summary: "Svante match"}))
}

func TestEligibility_Lists(t *testing.T) {
	el, err := NewEligibility(config.Rules{
		Allow:    []string{"padel"},
		Deny:     []string{"skola"},
		Activity: []string{"turnering"},
	})
	require.NoError(t, err)

	club := models.Event{Source: "Padelklubben", Summary: "Träningspass"}
	assert.True(t, el.AllowMatch(club))
	assert.False(t, el.DenyMatch(club))
	assert.True(t, el.Eligible(club))

	school := models.Event{Source: "Skola padel", Summary: "Padel lektion"}
	assert.True(t, el.DenyMatch(school))
	assert.False(t, el.ActivityOverride(school))
	assert.False(t, el.Eligible(school))

	school.Summary = "Padel turnering"
	assert.True(t, el.Eligible(school))

	assert.False(t, el.Eligible(models.Event{Source: "Kalender", Summary: "Möte"}))
}

func TestEligibility_InvalidPattern(t *testing.T) {
	_, err := NewEligibility(config.Rules{Allow: []string{"("}})
	assert.Error(t, err)
}
