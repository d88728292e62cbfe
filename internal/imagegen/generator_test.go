package imagegen

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"toonify/internal/domain"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (c *scriptedClient) GenerateImage(ctx context.Context, source []byte, mimeType, instruction string) ([]byte, string, error) {
	c.calls++
	if c.calls <= len(c.errs) && c.errs[c.calls-1] != nil {
		return nil, "", c.errs[c.calls-1]
	}
	return []byte("toon"), "image/png", nil
}

func throttled() error {
	return fmt.Errorf("%w: gemini status 429", domain.ErrThrottled)
}

func TestGeneratorRetriesThrottledThenSucceeds(t *testing.T) {
	client := &scriptedClient{errs: []error{throttled(), throttled()}}
	gen := NewGenerator(client, GeneratorOptions{MaxAttempts: 3, BaseDelay: time.Millisecond})

	out, err := gen.Generate(context.Background(), []byte("src"), "image/jpeg", "toonify")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d want 3 (two retries)", client.calls)
	}
	if string(out.Data) != "toon" || out.MIMEType != "image/png" {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestGeneratorGivesUpAfterMaxAttempts(t *testing.T) {
	client := &scriptedClient{errs: []error{throttled(), throttled(), throttled(), throttled()}}
	gen := NewGenerator(client, GeneratorOptions{MaxAttempts: 3, BaseDelay: time.Millisecond})

	_, err := gen.Generate(context.Background(), []byte("src"), "image/jpeg", "toonify")
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("got %v want ErrGenerationFailed", err)
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d want 3", client.calls)
	}
}

func TestGeneratorDoesNotRetryPermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no image", domain.ErrNoImageInResponse, domain.ErrGenerationFailed},
		{"unreachable", fmt.Errorf("%w: dial tcp", domain.ErrUpstreamUnreachable), domain.ErrGenerationFailed},
		{"rejected", fmt.Errorf("%w: gemini status 400", domain.ErrGenerationFailed), domain.ErrGenerationFailed},
		{"config", fmt.Errorf("%w: GEMINI_API_KEY", domain.ErrConfigMissing), domain.ErrConfigMissing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &scriptedClient{errs: []error{tc.err}}
			gen := NewGenerator(client, GeneratorOptions{MaxAttempts: 3, BaseDelay: time.Millisecond})
			_, err := gen.Generate(context.Background(), []byte("src"), "image/jpeg", "toonify")
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause lost: %v", err)
			}
			if client.calls != 1 {
				t.Fatalf("calls = %d want 1", client.calls)
			}
		})
	}
}

func TestGeneratorStopsOnCancel(t *testing.T) {
	client := &scriptedClient{errs: []error{throttled(), throttled(), throttled()}}
	gen := NewGenerator(client, GeneratorOptions{MaxAttempts: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := gen.Generate(ctx, []byte("src"), "image/jpeg", "toonify")
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("got %v want ErrGenerationFailed", err)
	}
	if client.calls != 1 {
		t.Fatalf("calls = %d want 1", client.calls)
	}
}

func TestRetryPolicyDoublesForLargeAttemptCounts(t *testing.T) {
	for _, attempts := range []int{3, 40, 1000} {
		gen := NewGenerator(&scriptedClient{}, GeneratorOptions{MaxAttempts: attempts, BaseDelay: time.Second})
		policy := gen.retryPolicy()
		if policy.MaxInterval <= 0 {
			t.Fatalf("attempts=%d: MaxInterval = %v", attempts, policy.MaxInterval)
		}
		want := time.Second
		for i := 0; i < 3; i++ {
			if got := policy.NextBackOff(); got != want {
				t.Fatalf("attempts=%d retry %d: wait = %v, want %v", attempts, i+1, got, want)
			}
			want *= 2
		}
	}
}
