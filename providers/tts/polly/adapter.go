package polly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

const ProviderID = "tts-amazon-polly"

// ContentType is the MIME type of every audio file written by the adapter.
const ContentType = "audio/mpeg"

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	Engine  string
	// AudioDir receives synthesized mp3 files. Defaults to a speakloop
	// directory under the OS temp dir.
	AudioDir string
	Timeout  time.Duration
}

type Adapter struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

func NewAdapter(cfg Config) (*Adapter, error) {
	return NewAdapterWithClient(cfg, nil)
}

func NewAdapterWithClient(cfg Config, client synthClient) (*Adapter, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-west-2"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "standard"
	}
	if !strings.EqualFold(cfg.Engine, "standard") && !strings.EqualFold(cfg.Engine, "neural") {
		return nil, fmt.Errorf("unsupported polly engine %q", cfg.Engine)
	}
	if strings.TrimSpace(cfg.AudioDir) == "" {
		cfg.AudioDir = filepath.Join(os.TempDir(), "speakloop")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Adapter{client: client, cfg: cfg}, nil
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

// Synthesize renders req.Text with req.VoiceID to an mp3 file and returns a
// file:// handle to it.
func (a *Adapter) Synthesize(ctx context.Context, req contracts.SynthesisRequest) (pipeline.AudioHandle, error) {
	if err := req.Validate(); err != nil {
		return pipeline.AudioHandle{}, contracts.NewProviderError(ProviderID, contracts.ModalityTTS,
			contracts.Outcome{Class: contracts.OutcomeBlocked, Reason: "invalid_request"}, err)
	}
	client, err := a.resolveClient(ctx)
	if err != nil {
		return pipeline.AudioHandle{}, contracts.NewProviderError(ProviderID, contracts.ModalityTTS,
			contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Reason: "provider_config_error"}, err)
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(a.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(callCtx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         aws.String(req.Text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(req.VoiceID),
	})
	if err != nil {
		return pipeline.AudioHandle{}, contracts.NewProviderError(ProviderID, contracts.ModalityTTS, normalizePollyError(err), err)
	}
	if output == nil || output.AudioStream == nil {
		return pipeline.AudioHandle{}, contracts.NewProviderError(ProviderID, contracts.ModalityTTS,
			contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_empty_audio"}, nil)
	}
	defer output.AudioStream.Close()

	path, err := a.store(output.AudioStream)
	if err != nil {
		return pipeline.AudioHandle{}, contracts.NewProviderError(ProviderID, contracts.ModalityTTS,
			contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Reason: "audio_write_failed"}, err)
	}
	return pipeline.AudioHandle{
		URI:          (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(),
		ContentType:  ContentType,
		VoiceID:      req.VoiceID,
		LanguageCode: req.LanguageCode,
	}, nil
}

func (a *Adapter) store(audio io.Reader) (string, error) {
	if err := os.MkdirAll(a.cfg.AudioDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(a.cfg.AudioDir, "speakloop-*.mp3")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, audio)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = errors.New("empty audio stream")
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return filepath.Abs(f.Name())
}

func normalizePollyError(err error) contracts.Outcome {
	if errors.Is(err, context.Canceled) {
		return contracts.Outcome{Class: contracts.OutcomeCancelled, Retryable: false, Reason: "provider_cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contracts.Outcome{Class: contracts.OutcomeTimeout, Retryable: true, Reason: "provider_timeout"}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return contracts.Outcome{Class: contracts.OutcomeOverload, Retryable: true, Reason: "provider_overload", BackoffMS: 500}
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException", "MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException", "LanguageNotSupportedException", "ValidationException":
			return contracts.Outcome{Class: contracts.OutcomeBlocked, Retryable: false, Reason: "provider_client_error"}
		default:
			return contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_server_error"}
		}
	}

	return contracts.Outcome{Class: contracts.OutcomeInfrastructureFailure, Retryable: true, Reason: "provider_transport_error"}
}

func (a *Adapter) resolveClient(ctx context.Context) (synthClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	a.client = polly.NewFromConfig(awsCfg)
	return a.client, nil
}

// NewTestAudioStream creates an in-memory stream for adapter tests.
func NewTestAudioStream() io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte("mp3")))
}
