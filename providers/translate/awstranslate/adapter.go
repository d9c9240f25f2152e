package awstranslate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/aws/smithy-go"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

const ProviderID = "translate-amazon"

type translateClient interface {
	TranslateText(ctx context.Context, params *translate.TranslateTextInput, optFns ...func(*translate.Options)) (*translate.TranslateTextOutput, error)
}

type Config struct {
	Region  string
	Timeout time.Duration
}

type Adapter struct {
	mu     sync.Mutex
	client translateClient
	cfg    Config
}

func NewAdapter(cfg Config) (*Adapter, error) {
	return NewAdapterWithClient(cfg, nil)
}

func NewAdapterWithClient(cfg Config, client translateClient) (*Adapter, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-west-2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{client: client, cfg: cfg}, nil
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

// Translate performs exactly one TranslateText call.
func (a *Adapter) Translate(ctx context.Context, req contracts.TranslateRequest) (contracts.TranslateResult, error) {
	if err := req.Validate(); err != nil {
		return contracts.TranslateResult{}, contracts.NewProviderError(ProviderID, contracts.ModalityTranslate,
			contracts.Outcome{Class: contracts.OutcomeBlocked, Reason: "invalid_request"}, err)
	}
	client, err := a.resolveClient(ctx)
	if err != nil {
		return contracts.TranslateResult{}, contracts.NewProviderError(ProviderID, contracts.ModalityTranslate,
			contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Reason: "provider_config_error"}, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	output, err := client.TranslateText(callCtx, &translate.TranslateTextInput{
		Text:               aws.String(req.Text),
		SourceLanguageCode: aws.String(req.SourceLanguageCode),
		TargetLanguageCode: aws.String(req.TargetLanguageCode),
	})
	if err != nil {
		return contracts.TranslateResult{}, contracts.NewProviderError(ProviderID, contracts.ModalityTranslate, normalizeTranslateError(err), err)
	}
	if output == nil || strings.TrimSpace(aws.ToString(output.TranslatedText)) == "" {
		return contracts.TranslateResult{}, contracts.NewProviderError(ProviderID, contracts.ModalityTranslate,
			contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_empty_text"}, nil)
	}
	return contracts.TranslateResult{Text: aws.ToString(output.TranslatedText)}, nil
}

func normalizeTranslateError(err error) contracts.Outcome {
	if errors.Is(err, context.Canceled) {
		return contracts.Outcome{Class: contracts.OutcomeCancelled, Retryable: false, Reason: "provider_cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contracts.Outcome{Class: contracts.OutcomeTimeout, Retryable: true, Reason: "provider_timeout"}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "LimitExceededException", "ThrottlingException", "ServiceUnavailableException":
			return contracts.Outcome{Class: contracts.OutcomeOverload, Retryable: true, Reason: "provider_overload", BackoffMS: 500}
		case "UnsupportedLanguagePairException", "TextSizeLimitExceededException", "InvalidRequestException",
			"DetectedLanguageLowConfidenceException", "InvalidParameterValueException", "ValidationException":
			return contracts.Outcome{Class: contracts.OutcomeBlocked, Retryable: false, Reason: "provider_client_error"}
		default:
			return contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_server_error"}
		}
	}

	return contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_transport_error"}
}

func (a *Adapter) resolveClient(ctx context.Context) (translateClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	a.client = translate.NewFromConfig(awsCfg)
	return a.client, nil
}
