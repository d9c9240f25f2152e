package awstranslate

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	translatesdk "github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/aws/smithy-go"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

type fakeTranslateClient struct {
	out   *translatesdk.TranslateTextOutput
	err   error
	calls int
	input *translatesdk.TranslateTextInput
}

func (f *fakeTranslateClient) TranslateText(ctx context.Context, params *translatesdk.TranslateTextInput, optFns ...func(*translatesdk.Options)) (*translatesdk.TranslateTextOutput, error) {
	f.calls++
	f.input = params
	return f.out, f.err
}

type fakeAPIError struct {
	code string
	msg  string
}

func (e fakeAPIError) Error() string {
	return e.code + ": " + e.msg
}

func (e fakeAPIError) ErrorCode() string {
	return e.code
}

func (e fakeAPIError) ErrorMessage() string {
	return e.msg
}

func (e fakeAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultClient
}

func TestTranslateSuccess(t *testing.T) {
	t.Parallel()

	client := &fakeTranslateClient{out: &translatesdk.TranslateTextOutput{TranslatedText: aws.String("hola mundo")}}
	adapter, err := NewAdapterWithClient(Config{}, client)
	if err != nil {
		t.Fatalf("unexpected adapter error: %v", err)
	}

	res, err := adapter.Translate(context.Background(), contracts.TranslateRequest{
		Text:               "hello world",
		SourceLanguageCode: "en",
		TargetLanguageCode: "es",
	})
	if err != nil {
		t.Fatalf("unexpected translate error: %v", err)
	}
	if res.Text != "hola mundo" {
		t.Fatalf("expected hola mundo, got %q", res.Text)
	}
	if client.calls != 1 {
		t.Fatalf("expected one call, got %d", client.calls)
	}
	in := client.input
	if aws.ToString(in.Text) != "hello world" || aws.ToString(in.SourceLanguageCode) != "en" || aws.ToString(in.TargetLanguageCode) != "es" {
		t.Fatalf("unexpected translate input: %+v", in)
	}
}

func TestTranslateErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected contracts.OutcomeClass
	}{
		{name: "timeout", err: context.DeadlineExceeded, expected: contracts.OutcomeTimeout},
		{name: "cancelled", err: context.Canceled, expected: contracts.OutcomeCancelled},
		{name: "throttled", err: fakeAPIError{code: "TooManyRequestsException", msg: "rate"}, expected: contracts.OutcomeOverload},
		{name: "unavailable", err: fakeAPIError{code: "ServiceUnavailableException", msg: "busy"}, expected: contracts.OutcomeOverload},
		{name: "unsupported pair", err: fakeAPIError{code: "UnsupportedLanguagePairException", msg: "pair"}, expected: contracts.OutcomeBlocked},
		{name: "text too long", err: fakeAPIError{code: "TextSizeLimitExceededException", msg: "size"}, expected: contracts.OutcomeBlocked},
		{name: "server", err: fakeAPIError{code: "InternalServerException", msg: "boom"}, expected: contracts.OutcomeInfrastructureFailure},
		{name: "transport", err: errors.New("connection reset"), expected: contracts.OutcomeInfrastructureFailure},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := &fakeTranslateClient{err: tc.err}
			adapter, err := NewAdapterWithClient(Config{}, client)
			if err != nil {
				t.Fatalf("unexpected adapter error: %v", err)
			}
			_, err = adapter.Translate(context.Background(), contracts.TranslateRequest{Text: "hi", SourceLanguageCode: "en", TargetLanguageCode: "fr"})
			var pe *contracts.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected provider error, got %v", err)
			}
			if pe.Outcome.Class != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, pe.Outcome.Class)
			}
			if client.calls != 1 {
				t.Fatalf("expected exactly one attempt, got %d", client.calls)
			}
		})
	}
}

func TestTranslateEmptyOutput(t *testing.T) {
	t.Parallel()

	adapter, err := NewAdapterWithClient(Config{}, &fakeTranslateClient{out: &translatesdk.TranslateTextOutput{TranslatedText: aws.String("  ")}})
	if err != nil {
		t.Fatalf("unexpected adapter error: %v", err)
	}
	_, err = adapter.Translate(context.Background(), contracts.TranslateRequest{Text: "hi", SourceLanguageCode: "en", TargetLanguageCode: "de"})
	if got := contracts.OutcomeOf(err).Reason; got != "provider_empty_text" {
		t.Fatalf("expected provider_empty_text, got %q", got)
	}
}

func TestTranslateInvalidRequestSkipsProvider(t *testing.T) {
	t.Parallel()

	client := &fakeTranslateClient{}
	adapter, err := NewAdapterWithClient(Config{}, client)
	if err != nil {
		t.Fatalf("unexpected adapter error: %v", err)
	}
	_, err = adapter.Translate(context.Background(), contracts.TranslateRequest{Text: "  ", SourceLanguageCode: "en", TargetLanguageCode: "de"})
	if contracts.OutcomeOf(err).Class != contracts.OutcomeBlocked {
		t.Fatalf("expected blocked outcome, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no provider call, got %d", client.calls)
	}
}

var _ smithy.APIError = fakeAPIError{}
