package validator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

func newValidator(t *testing.T, opts Options) *Validator {
	t.Helper()
	v, err := New(opts)
	require.NoError(t, err)
	return v
}

func blockRule(id int, host string) domain.CompiledRule {
	return domain.CompiledRule{
		ID:       id,
		Priority: domain.BlockPriority,
		Action:   domain.Action{Type: domain.ActionBlock},
		Condition: domain.Condition{
			RequestDomains: []string{host},
			ResourceTypes:  []domain.ResourceType{domain.ResourceScript},
		},
	}
}

func containsErr(rep Report, sub string) bool {
	for _, e := range rep.Errors {
		if strings.Contains(e, sub) {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	rs := domain.Ruleset{
		blockRule(1, "example.com"),
		{ID: 2, Priority: 2, Action: domain.Action{Type: domain.ActionAllow}, Condition: domain.Condition{URLFilter: "/banner-ad/"}},
		blockRule(5, "test.org"),
	}
	rep, err := newValidator(t, Options{}).Validate(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, OutcomeValid, rep.Outcome)
	assert.True(t, rep.IsValid)
	assert.Empty(t, rep.Errors)
	assert.NoError(t, rep.Err())
	assert.Equal(t, Stats{TotalRules: 3, BlockRules: 2, AllowRules: 1, MinID: 1, MaxID: 5, Gaps: []IDGap{{Start: 3, End: 4}}}, rep.Stats)
}

func TestValidate_CollectsEveryError(t *testing.T) {
	rs := domain.Ruleset{
		{ID: 0, Priority: 0, Action: domain.Action{Type: "redirect"}, Condition: domain.Condition{URLFilter: "/x"}},
		{ID: 100000, Priority: 1001, Action: domain.Action{Type: domain.ActionBlock}, Condition: domain.Condition{
			URLFilter:     "/a\x01b",
			ResourceTypes: []domain.ResourceType{"beacon"},
		}},
		{ID: 3, Priority: 1, Action: domain.Action{Type: domain.ActionBlock}, Condition: domain.Condition{
			RequestDomains: []string{"ok.com", ""},
			ResourceTypes:  []domain.ResourceType{},
			DomainType:     "sameSite",
		}},
		{ID: 4, Priority: 1, Action: domain.Action{Type: domain.ActionBlock}, Condition: domain.Condition{URLFilter: strings.Repeat("a", domain.MaxLineLength+1)}},
		{ID: 5, Priority: 1, Action: domain.Action{Type: domain.ActionBlock}},
	}
	rep, err := newValidator(t, Options{}).Validate(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, rep.Outcome)
	assert.False(t, rep.IsValid)

	for _, want := range []string{
		"rule[0] (id 0): id must be in [1, 99999]",
		"rule[0] (id 0): priority must be in [1, 1000]",
		`rule[0] (id 0): action.type failed "action_type"`,
		"rule[1] (id 100000): id must be in [1, 99999]",
		"rule[1] (id 100000): priority must be in [1, 1000]",
		`rule[1] (id 100000): condition.urlFilter failed "nocontrol"`,
		`rule[1] (id 100000): condition.resourceTypes[0] failed "resource_type"`,
		`rule[2] (id 3): condition.requestDomains[1] failed "required"`,
		"rule[2] (id 3): condition.resourceTypes must not be empty",
		`rule[2] (id 3): condition.domainType failed "oneof"`,
		"rule[3] (id 4): condition.urlFilter exceeds 2048 bytes",
		"rule[4] (id 5): block rule has no url or domain constraint",
	} {
		assert.True(t, containsErr(rep, want), "missing error %q in %v", want, rep.Errors)
	}
	assert.ErrorIs(t, rep.Err(), ErrInvalid)
	assert.Contains(t, rep.Err().Error(), "block rule has no url or domain constraint")
}

func TestValidate_DuplicateIDsReportedIndividually(t *testing.T) {
	rs := domain.Ruleset{blockRule(7, "a.com"), blockRule(7, "b.com"), blockRule(8, "c.com"), blockRule(7, "d.com")}
	rep, err := newValidator(t, Options{}).Validate(context.Background(), rs)
	require.NoError(t, err)
	assert.False(t, rep.IsValid)
	assert.Equal(t, []string{
		"rule[1]: duplicate id 7 (first used by rule[0])",
		"rule[3]: duplicate id 7 (first used by rule[0])",
	}, rep.Errors)
	assert.Equal(t, 7, rep.Stats.MinID)
	assert.Equal(t, 8, rep.Stats.MaxID)
	assert.Empty(t, rep.Stats.Gaps)
}

func TestValidate_RuleCountLimit(t *testing.T) {
	rs := domain.Ruleset{blockRule(1, "a.com"), blockRule(2, "b.com"), blockRule(3, "c.com")}
	rep, err := newValidator(t, Options{Limits: Limits{MaxRules: 2}}).Validate(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, []string{"ruleset has 3 rules, limit is 2"}, rep.Errors)
}

func TestValidate_Timeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	rep, err := newValidator(t, Options{}).Validate(ctx, domain.Ruleset{blockRule(1, "a.com")})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, OutcomeTimeout, rep.Outcome)
	assert.False(t, rep.IsValid)
	assert.Empty(t, rep.Errors)
	assert.ErrorIs(t, rep.Err(), ErrTimeout)
}

type recorderStub struct{ outcomes []string }

func (r *recorderStub) ObserveValidation(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestValidate_RecordsOutcome(t *testing.T) {
	rec := &recorderStub{}
	v := newValidator(t, Options{Recorder: rec})
	_, err := v.Validate(context.Background(), domain.Ruleset{blockRule(1, "a.com")})
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), domain.Ruleset{blockRule(0, "a.com")})
	require.NoError(t, err)
	assert.Equal(t, []string{"valid", "invalid"}, rec.outcomes)
}

func TestValidateJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		valid   bool
		wantErr []string
	}{
		{
			name:  "compiled artifact",
			input: `[{"id":1,"priority":1,"action":{"type":"block"},"condition":{"requestDomains":["example.com"],"resourceTypes":["script"]}}]`,
			valid: true,
		},
		{
			name:    "not an array",
			input:   `{"id":1}`,
			wantErr: []string{"ruleset must be a JSON array"},
		},
		{
			name:    "element not an object",
			input:   `[1]`,
			wantErr: []string{"rule[0]: must be an object"},
		},
		{
			name:    "missing fields",
			input:   `[{"id":1}]`,
			wantErr: []string{`missing required field "priority"`, `missing required field "action"`, `missing required field "condition"`},
		},
		{
			name:    "non integer id and priority",
			input:   `[{"id":1.5,"priority":"1","action":{"type":"block"},"condition":{"urlFilter":"/x"}}]`,
			wantErr: []string{"rule[0]: id must be an integer", "rule[0]: priority must be an integer"},
		},
		{
			name:    "wrong condition types",
			input:   `[{"id":2,"priority":1,"action":{"type":"block"},"condition":{"urlFilter":5,"resourceTypes":"script","requestDomains":[1]}}]`,
			wantErr: []string{"condition.urlFilter must be a string", "condition.resourceTypes must be an array", "condition.requestDomains[0] must be a string"},
		},
		{
			name:    "empty resource types",
			input:   `[{"id":3,"priority":1,"action":{"type":"block"},"condition":{"urlFilter":"/x","resourceTypes":[]}}]`,
			wantErr: []string{"rule[0] (id 3): condition.resourceTypes must not be empty"},
		},
		{
			name:    "out of range id with bad shape",
			input:   `[{"id":0,"priority":1,"action":"block","condition":{}}]`,
			wantErr: []string{"rule[0]: action must be an object", "rule[0] (id 0): id must be in [1, 99999]"},
		},
		{
			name:  "missing id still checks the rest",
			input: `[{"priority":0,"action":{"type":"explode"},"condition":{"urlFilter":"/x","resourceTypes":["bogus"]}}]`,
			wantErr: []string{
				`rule[0]: missing required field "id"`,
				"rule[0]: priority must be in [1, 1000]",
				`rule[0]: action.type failed "action_type"`,
				`rule[0]: condition.resourceTypes[0] failed "resource_type"`,
			},
		},
		{
			name:    "non integer id still checks the rest",
			input:   `[{"id":"7","priority":1,"action":{"type":"block"},"condition":{"resourceTypes":[]}}]`,
			wantErr: []string{"rule[0]: id must be an integer", "rule[0]: condition.resourceTypes must not be empty", "rule[0]: block rule has no url or domain constraint"},
		},
		{
			name:    "duplicate ids",
			input:   `[{"id":9,"priority":1,"action":{"type":"block"},"condition":{"urlFilter":"/a"}},{"id":9,"priority":1,"action":{"type":"block"},"condition":{"urlFilter":"/b"}}]`,
			wantErr: []string{"rule[1]: duplicate id 9 (first used by rule[0])"},
		},
	}
	v := newValidator(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := v.ValidateJSON(context.Background(), []byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, rep.IsValid, "errors: %v", rep.Errors)
			for _, want := range tt.wantErr {
				assert.True(t, containsErr(rep, want), "missing error %q in %v", want, rep.Errors)
			}
		})
	}
}

func TestValidateJSON_Timeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	rep, err := newValidator(t, Options{}).ValidateJSON(ctx, []byte(`[{"id":1}]`))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, OutcomeTimeout, rep.Outcome)
}
