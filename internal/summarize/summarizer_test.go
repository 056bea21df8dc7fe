package summarize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localbrain/contextd/internal/reasoner"
)

func TestValidate_AcceptsWellFormedSummary(t *testing.T) {
	summary := "Topic: deploy pipeline broke\nDocType: incident\nProject: contextd\nKeyActions:\n- restart the worker\n- check logs\n"
	assert.NoError(t, Validate(summary))
}

func TestValidate_RejectsMissingKeyActionsPrefix(t *testing.T) {
	summary := "Topic: x\nDocType: incident\nProject: Unknown\nKeyActions:\n1. restart the worker\n"
	err := Validate(summary)
	require.Error(t, err)
}

func TestValidate_RejectsEmptyTopic(t *testing.T) {
	summary := "Topic: \nDocType: incident\nProject: Unknown\nKeyActions:\n- a\n"
	assert.Error(t, Validate(summary))
}

func TestValidate_RejectsEmptyKeyActions(t *testing.T) {
	summary := "Topic: x\nDocType: incident\nProject: Unknown\nKeyActions:\n"
	assert.Error(t, Validate(summary))
}

func TestFallbackSummary_AlwaysValidates(t *testing.T) {
	content := "The deploy failed.\nRun the rollback script.\nCheck the logs for errors.\nRestart the service afterward."
	summary := fallbackSummary(content)
	assert.NoError(t, Validate(summary))
}

func TestFallbackSummary_NoActionsFound_UsesPlaceholder(t *testing.T) {
	summary := fallbackSummary("just some unrelated prose with no imperative lines at all")
	assert.Contains(t, summary, "- (no actions recorded)")
	assert.NoError(t, Validate(summary))
}

type stubSummaryBackend struct {
	responses []string
	call      int
}

func (s *stubSummaryBackend) Complete(_ context.Context, _ string, _ reasoner.CompleteOptions) (string, error) {
	r := s.responses[s.call]
	if s.call < len(s.responses)-1 {
		s.call++
	}
	return r, nil
}
func (s *stubSummaryBackend) Name() string { return "stub" }

func TestSummariser_ReturnsValidFirstAttempt(t *testing.T) {
	valid := "Topic: t\nDocType: process\nProject: Unknown\nKeyActions:\n- do the thing\n"
	router := reasoner.NewRouter(&stubSummaryBackend{responses: []string{valid}}, reasoner.NewExternalReasoner(""))
	s := NewSummariser(router)

	out, err := s.Summarize(context.Background(), "some content", "")

	require.NoError(t, err)
	assert.Equal(t, valid, out)
}

func TestSummariser_RetriesThenFallsBackToDeterministicSummary(t *testing.T) {
	backend := &stubSummaryBackend{responses: []string{"not structured at all", "still not structured"}}
	router := reasoner.NewRouter(backend, reasoner.NewExternalReasoner(""))
	s := NewSummariser(router)

	out, err := s.Summarize(context.Background(), "Run the migration.\nVerify the output.", "")

	require.NoError(t, err)
	assert.NoError(t, Validate(out))
	assert.Equal(t, 2, backend.call+1)
}

func TestBuildPrompt_AddsLanguageInstructionForNonEnglish(t *testing.T) {
	p := buildPrompt("contenu", "fr", false)
	assert.Contains(t, p, "Write the summary in fr")
}

func TestBuildPrompt_OmitsLanguageInstructionForEnglish(t *testing.T) {
	p := buildPrompt("content", "en", false)
	assert.NotContains(t, p, "Write the summary in")
}

func TestSummariser_UnsupportedLanguageWithExternalFallback_UsesHeavyTask(t *testing.T) {
	valid := "Topic: t\nDocType: process\nProject: Unknown\nKeyActions:\n- do the thing\n"
	router := reasoner.NewRouter(&stubSummaryBackend{responses: []string{valid}}, reasoner.NewExternalReasoner(""))
	s := NewSummariser(router)
	s.SupportedLocal = []string{"en"}
	s.FallbackStrategy = "external"

	out, err := s.Summarize(context.Background(), "short", "ja")

	require.NoError(t, err)
	assert.Equal(t, valid, out)
}
