package synthesis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/catalog"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

// Stage selects a voice for the target language and requests audio once.
type Stage struct {
	provider contracts.Synthesizer
	catalog  *catalog.Catalog
	log      zerolog.Logger
}

// NewStage builds a synthesis stage.
func NewStage(provider contracts.Synthesizer, cat *catalog.Catalog, logger zerolog.Logger) (*Stage, error) {
	if provider == nil {
		return nil, fmt.Errorf("synthesis provider is required")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Stage{
		provider: provider,
		catalog:  cat,
		log:      logger.With().Str("component", "synthesis").Logger(),
	}, nil
}

// Request builds the provider request for text in the target language.
func (s *Stage) Request(text string, targetDisplayLanguage string) contracts.SynthesisRequest {
	code := s.catalog.CodeFor(targetDisplayLanguage)
	return contracts.SynthesisRequest{
		Text:         text,
		VoiceID:      s.catalog.VoiceFor(code),
		LanguageCode: code,
	}
}

// Synthesize issues a single provider request. Provider errors come back as a
// *pipeline.Failure of kind SynthesisFailure.
func (s *Stage) Synthesize(ctx context.Context, text string, targetDisplayLanguage string) (pipeline.AudioHandle, error) {
	req := s.Request(text, targetDisplayLanguage)
	if err := req.Validate(); err != nil {
		return pipeline.AudioHandle{}, pipeline.NewFailure(pipeline.KindSynthesisFailure, string(contracts.OutcomeBlocked), "invalid_request", err)
	}

	handle, err := s.provider.Synthesize(ctx, req)
	if err != nil {
		outcome := contracts.OutcomeOf(err)
		s.log.Warn().Err(err).
			Str("provider_id", s.provider.ProviderID()).
			Str("outcome_class", string(outcome.Class)).
			Str("voice_id", req.VoiceID).
			Msg("synthesis failed")
		return pipeline.AudioHandle{}, pipeline.NewFailure(pipeline.KindSynthesisFailure, string(outcome.Class), outcome.Reason, err)
	}
	if err := handle.Validate(); err != nil {
		return pipeline.AudioHandle{}, pipeline.NewFailure(pipeline.KindSynthesisFailure, string(contracts.OutcomeInfrastructureFailure), "provider_invalid_handle", err)
	}
	return handle, nil
}
