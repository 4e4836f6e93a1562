package approval

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
)

var now = time.Date(2026, 1, 21, 9, 0, 0, 0, time.UTC)

func twoLevel() ChainTemplate {
	return ChainTemplate{
		EntityType: "quotation",
		Levels: []LevelTemplate{
			{Name: "Level1", ApproverID: "userA"},
			{Name: "Level2", ApproverID: "userB", Overrides: []string{"userD"}},
		},
	}
}

func submit(t *testing.T) *Request {
	t.Helper()
	r, err := NewFromSubmission(twoLevel(), "Q#1", "steel quotation", "submitter", now)
	require.NoError(t, err)
	return r
}

func TestApprovalScenario(t *testing.T) {
	r := submit(t)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, 1, r.CurrentLevel)
	assert.Equal(t, 2, r.TotalLevels)

	require.NoError(t, r.Decide(1, "userA", domain.OutcomeApproved, "", now))
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, 2, r.CurrentLevel)
	assert.Empty(t, r.PullEvents())

	err := r.Decide(1, "userA", domain.OutcomeApproved, "", now)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition) || apperrors.HasCode(err, apperrors.CodeForbidden), "err = %v", err)

	err = r.Decide(2, "userC", domain.OutcomeApproved, "", now)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden), "err = %v", err)
	assert.Equal(t, DecisionPending, r.Levels[1].Status)

	require.NoError(t, r.Decide(2, "userB", domain.OutcomeRejected, "price too high", now))
	assert.Equal(t, StatusRejected, r.Status)
	assert.Equal(t, 0, r.CurrentLevel)
	require.NotNil(t, r.CompletedAt)

	evs := r.PullEvents()
	require.Len(t, evs, 1)
	done := evs[0].(domain.ApprovalCompleted)
	assert.Equal(t, domain.OutcomeRejected, done.Outcome)
	assert.Equal(t, "price too high", done.Reason)
	assert.Equal(t, "Q#1", done.EntityID)
}

func TestDecide_FinalApproval(t *testing.T) {
	r := submit(t)
	require.NoError(t, r.Decide(1, "userA", domain.OutcomeApproved, "ok", now))
	require.NoError(t, r.Decide(2, "userD", domain.OutcomeApproved, "override", now))

	assert.Equal(t, StatusApproved, r.Status)
	assert.Equal(t, "userD", r.Levels[1].ActualApproverID)

	evs := r.PullEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.OutcomeApproved, evs[0].(domain.ApprovalCompleted).Outcome)

	err := r.Decide(2, "userB", domain.OutcomeApproved, "", now)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestDecide_RejectionTerminatesChain(t *testing.T) {
	r := submit(t)
	require.NoError(t, r.Decide(1, "userA", domain.OutcomeRejected, "budget frozen", now))

	assert.Equal(t, StatusRejected, r.Status)
	assert.Equal(t, DecisionRejected, r.Levels[0].Status)
	assert.Equal(t, DecisionCanceled, r.Levels[1].Status)
	assert.Empty(t, r.Levels[1].ActualApproverID)

	err := r.Decide(2, "userB", domain.OutcomeApproved, "", now)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestDecide_Errors(t *testing.T) {
	tests := []struct {
		name     string
		level    int
		approver string
		outcome  domain.ApprovalOutcome
		comments string
		wantCode string
	}{
		{"unknown level", 3, "userA", domain.OutcomeApproved, "", apperrors.CodeNotFound},
		{"level zero", 0, "userA", domain.OutcomeApproved, "", apperrors.CodeNotFound},
		{"not current level", 2, "userB", domain.OutcomeApproved, "", apperrors.CodeForbidden},
		{"wrong approver", 1, "userB", domain.OutcomeApproved, "", apperrors.CodeForbidden},
		{"empty approver", 1, "", domain.OutcomeApproved, "", apperrors.CodeForbidden},
		{"reject without reason", 1, "userA", domain.OutcomeRejected, "", apperrors.CodeGuardRejected},
		{"reject with blank reason", 1, "userA", domain.OutcomeRejected, " \t ", apperrors.CodeGuardRejected},
		{"bad outcome", 1, "userA", domain.OutcomeCanceled, "", apperrors.CodeInvalidRequestField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := submit(t)
			before := r.Clone()

			err := r.Decide(tt.level, tt.approver, tt.outcome, tt.comments, now)
			assert.True(t, apperrors.HasCode(err, tt.wantCode), "err = %v", err)
			assert.Equal(t, before, r)
		})
	}
}

func TestRecall(t *testing.T) {
	r := submit(t)

	err := r.Recall("userA", now)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	require.NoError(t, r.Recall("submitter", now))
	assert.Equal(t, StatusCanceled, r.Status)
	for _, l := range r.Levels {
		assert.Equal(t, DecisionCanceled, l.Status)
	}
	evs := r.PullEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.OutcomeCanceled, evs[0].(domain.ApprovalCompleted).Outcome)

	err = r.Recall("submitter", now)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestNewFromSubmission_OptionalLevels(t *testing.T) {
	chain := ChainTemplate{
		EntityType: "quotation",
		Levels: []LevelTemplate{
			{Name: "lead", ApproverID: "userA"},
			{Name: "finance", Optional: true},
			{Name: "director", ApproverID: "userB"},
		},
	}
	require.NoError(t, chain.Validate())

	r, err := NewFromSubmission(chain, "Q#2", "", "submitter", now)
	require.NoError(t, err)
	require.Len(t, r.Levels, 2)
	assert.Equal(t, 1, r.Levels[0].Order)
	assert.Equal(t, 2, r.Levels[1].Order)
	assert.Equal(t, "director", r.Levels[1].Name)
	assert.Equal(t, 2, r.TotalLevels)
}

func TestChainValidate(t *testing.T) {
	tests := []struct {
		name    string
		chain   ChainTemplate
		wantErr bool
	}{
		{"valid", twoLevel(), false},
		{"no entity type", ChainTemplate{Levels: twoLevel().Levels}, true},
		{"no levels", ChainTemplate{EntityType: "x"}, true},
		{"required without approver", ChainTemplate{EntityType: "x", Levels: []LevelTemplate{{Name: "a"}}}, true},
		{"only empty optional", ChainTemplate{EntityType: "x", Levels: []LevelTemplate{{Name: "a", Optional: true}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chain.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChains(t *testing.T) {
	chains, err := NewChains(twoLevel(), ChainTemplate{EntityType: "purchase_order", Levels: []LevelTemplate{{Name: "cfo", ApproverID: "cfo"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"purchase_order", "quotation"}, chains.EntityTypes())

	_, err = chains.For("invoice")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = NewChains(twoLevel(), twoLevel())
	assert.Error(t, err)
}

func TestLoadChains(t *testing.T) {
	doc := `
chains:
  - entity_type: quotation
    levels:
      - name: Level1
        approver_id: userA
      - name: Level2
        approver_id: userB
        overrides: [userD]
      - name: Audit
        optional: true
`
	templates, err := LoadChains(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "quotation", templates[0].EntityType)
	require.Len(t, templates[0].Levels, 3)
	assert.Equal(t, []string{"userD"}, templates[0].Levels[1].Overrides)
	assert.True(t, templates[0].Levels[2].Optional)

	_, err = LoadChains(strings.NewReader("chains:\n  - entity_typo: x\n"))
	assert.Error(t, err)

	templates, err = LoadChains(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, templates)
}
