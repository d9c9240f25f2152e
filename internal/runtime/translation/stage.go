package translation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/catalog"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

// Result is a successful translation.
type Result struct {
	Request contracts.TranslateRequest
	Text    string
}

// Stage resolves target languages and makes one provider call per request.
type Stage struct {
	provider   contracts.Translator
	catalog    *catalog.Catalog
	sourceCode string
	log        zerolog.Logger
}

// NewStage builds a translation stage for a fixed source language.
func NewStage(provider contracts.Translator, cat *catalog.Catalog, sourceCode string, logger zerolog.Logger) (*Stage, error) {
	if provider == nil {
		return nil, fmt.Errorf("translation provider is required")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	sourceCode = strings.ToLower(strings.TrimSpace(sourceCode))
	if sourceCode == "" {
		return nil, fmt.Errorf("source language code is required")
	}
	return &Stage{
		provider:   provider,
		catalog:    cat,
		sourceCode: sourceCode,
		log:        logger.With().Str("component", "translation").Logger(),
	}, nil
}

// SourceCode returns the configured source language code.
func (s *Stage) SourceCode() string {
	return s.sourceCode
}

// Translate issues a single provider request. Provider errors come back as a
// *pipeline.Failure of kind TranslationFailure.
func (s *Stage) Translate(ctx context.Context, text string, targetDisplayLanguage string) (Result, error) {
	req := contracts.TranslateRequest{
		Text:               text,
		SourceLanguageCode: s.sourceCode,
		TargetLanguageCode: s.catalog.CodeFor(targetDisplayLanguage),
	}
	if err := req.Validate(); err != nil {
		return Result{}, pipeline.NewFailure(pipeline.KindTranslationFailure, string(contracts.OutcomeBlocked), "invalid_request", err)
	}

	out, err := s.provider.Translate(ctx, req)
	if err != nil {
		outcome := contracts.OutcomeOf(err)
		s.log.Warn().Err(err).
			Str("provider_id", s.provider.ProviderID()).
			Str("outcome_class", string(outcome.Class)).
			Str("target", req.TargetLanguageCode).
			Msg("translation failed")
		return Result{}, pipeline.NewFailure(pipeline.KindTranslationFailure, string(outcome.Class), outcome.Reason, err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return Result{}, pipeline.NewFailure(pipeline.KindTranslationFailure, string(contracts.OutcomeInfrastructureFailure), "provider_empty_text", nil)
	}
	return Result{Request: req, Text: out.Text}, nil
}
