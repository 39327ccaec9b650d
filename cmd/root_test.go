package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/interview"
)

func validConfig() *Config {
	return &Config{
		Interview: &InterviewConfig{MinQuestions: 8, MaxQuestions: 30, IdleTimeout: time.Hour, Aggregate: "mean"},
		LLM:       &LLMConfig{Provider: providerNone, Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
		Store:     &StoreConfig{Driver: driverMemory},
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "min above max", mutate: func(c *Config) { c.Interview.MinQuestions = 31 }, wantErr: "min-questions"},
		{name: "zero min", mutate: func(c *Config) { c.Interview.MinQuestions = 0 }, wantErr: "min-questions"},
		{name: "negative idle timeout", mutate: func(c *Config) { c.Interview.IdleTimeout = -time.Second }, wantErr: "idle-timeout"},
		{name: "unknown aggregate", mutate: func(c *Config) { c.Interview.Aggregate = "median" }, wantErr: "aggregate"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "openai" }, wantErr: "llm.provider"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: "store.driver"},
		{name: "redis without address", mutate: func(c *Config) { c.Store.Driver = driverRedis }, wantErr: "store.redis.addr"},
		{name: "provider is case insensitive", mutate: func(c *Config) { c.LLM.Provider = "Gemini" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)

			err := c.validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestConfigValidateFillsSections(t *testing.T) {
	c := validConfig()
	if err := c.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.LLM.Gemini == nil || c.Archive == nil || c.Events == nil || c.Server == nil {
		t.Fatalf("expected missing sections to be filled: %+v", c)
	}
}

func TestDefaultsProduceValidConfig(t *testing.T) {
	config, err := getConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.Interview.MinQuestions != interview.DefaultMinQuestions || config.Interview.MaxQuestions != interview.DefaultMaxQuestions {
		t.Fatalf("unexpected budget defaults: %+v", config.Interview)
	}
	if config.Store.Driver != driverMemory || config.Server.Addr != ":8080" {
		t.Fatalf("unexpected defaults: store %+v server %+v", config.Store, config.Server)
	}
	if config.LLM.Timeout != 20*time.Second || config.LLM.Attempts != 2 {
		t.Fatalf("unexpected llm defaults: %+v", config.LLM)
	}
}

func TestBuildEngineOffline(t *testing.T) {
	ctx := context.Background()
	c := validConfig()
	if err := c.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eng, err := buildEngine(ctx, c, zap.NewNop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer eng.Close(ctx, zap.NewNop())

	if eng.catalog.Len() != 12 {
		t.Fatalf("expected the default catalog, got %d topics", eng.catalog.Len())
	}

	question, err := eng.manager.StartInterview(ctx, "console")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := eng.catalog.At(0)
	if question != first.FallbackQuestion(0) {
		t.Fatalf("expected the static opening question, got %q", question)
	}

	action, err := eng.manager.SubmitAnswer(ctx, "console", "Rural schools lack science labs.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := eng.catalog.At(1)
	if action.Kind != interview.ActionAskQuestion || action.Question != second.FallbackQuestion(0) {
		t.Fatalf("expected the next topic's opening question, got %+v", action)
	}
}

func TestBuildEngineRejectsMissingTopicsFile(t *testing.T) {
	c := validConfig()
	c.Interview.TopicsFile = "/does/not/exist.yaml"
	if err := c.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := buildEngine(context.Background(), c, zap.NewNop(), prometheus.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "exist.yaml") {
		t.Fatalf("expected topics file error, got %v", err)
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	c := validConfig()
	c.LLM.Provider = providerGemini
	if err := c.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := newCompleter(context.Background(), c.LLM, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "llm.provider: none") {
		t.Fatalf("expected a missing key error, got %v", err)
	}
}
