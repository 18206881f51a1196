package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incident/internal/models"
)

func testPolicy() MergePolicy {
	return MergePolicy{
		models.FieldService:     Overwrite,
		models.FieldDescription: Overwrite,
		models.FieldEvents:      Append,
	}.withBookkeeping()
}

func TestMergeOverwritesAndAppends(t *testing.T) {
	rec := models.NewRecord("alert", fixedNow())
	policy := testPolicy()

	require.NoError(t, policy.Merge(&rec, models.Update{
		Service: models.Ptr("first"),
		Events:  []models.Event{{Kind: models.EventIncidentDetected}},
	}))
	require.NoError(t, policy.Merge(&rec, models.Update{
		Service: models.Ptr("second"),
		Events:  []models.Event{{Kind: models.EventAnalysisUpdate}},
	}))

	require.Equal(t, "second", rec.Service)
	require.Len(t, rec.Events, 2)
	require.Equal(t, models.EventIncidentDetected, rec.Events[0].Kind)
}

func TestMergeRequiresPolicyForEveryField(t *testing.T) {
	rec := models.NewRecord("alert", fixedNow())
	err := testPolicy().Merge(&rec, models.Update{Decision: models.Ptr(models.DecisionEscalation)})
	require.ErrorIs(t, err, ErrMissingMergePolicy)
}

func TestMergeRoundFailsOnConflict(t *testing.T) {
	rec := models.NewRecord("alert", fixedNow())
	round := []Contribution{
		{Stage: "a", Update: models.Update{Service: models.Ptr("a")}},
		{Stage: "b", Update: models.Update{Service: models.Ptr("b"), Description: models.Ptr("b")}},
	}

	conflicts, err := testPolicy().MergeRound(&rec, round, ConflictFail)
	require.ErrorIs(t, err, ErrFieldConflict)
	require.Len(t, conflicts, 1)
	require.Equal(t, models.FieldService, conflicts[0].Field)
	require.Empty(t, rec.Service)
	require.Empty(t, rec.Description)
}

func TestMergeRoundLogPolicyKeepsFirstWrite(t *testing.T) {
	rec := models.NewRecord("alert", fixedNow())
	round := []Contribution{
		{Stage: "a", Update: models.Update{Service: models.Ptr("a"), Events: []models.Event{{Stage: "a"}}}},
		{Stage: "b", Update: models.Update{Service: models.Ptr("b"), Description: models.Ptr("b"), Events: []models.Event{{Stage: "b"}}}},
	}

	conflicts, err := testPolicy().MergeRound(&rec, round, ConflictLog)
	require.NoError(t, err)
	require.Equal(t, []Conflict{{Field: models.FieldService, Kept: "a", Dropped: "b"}}, conflicts)
	require.Equal(t, "a", rec.Service)
	require.Equal(t, "b", rec.Description)
	require.Len(t, rec.Events, 2)
}

func TestMergeDoesNotAliasUpdateSlices(t *testing.T) {
	rec := models.NewRecord("alert", fixedNow())
	analysis := &models.LogAnalysis{LogPatterns: []string{"timeout"}}
	policy := MergePolicy{models.FieldLogAnalysis: Overwrite}

	require.NoError(t, policy.Merge(&rec, models.Update{LogAnalysis: analysis}))
	analysis.LogPatterns[0] = "changed"
	require.Equal(t, "timeout", rec.LogAnalysis.LogPatterns[0])
}

func TestParseConflictPolicy(t *testing.T) {
	p, err := ParseConflictPolicy("log")
	require.NoError(t, err)
	require.Equal(t, ConflictLog, p)

	p, err = ParseConflictPolicy("")
	require.NoError(t, err)
	require.Equal(t, ConflictFail, p)

	_, err = ParseConflictPolicy("panic")
	require.Error(t, err)
}
