package boundary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/prompts/extract"
	"github.com/jackzampolin/guideshelf/internal/providers"
	"github.com/jackzampolin/guideshelf/internal/shards"
	"github.com/jackzampolin/guideshelf/internal/testutil"
)

func decision(isNew bool, topic, sub string, conf float64) map[string]any {
	return map[string]any{
		"is_new_topic":      isNew,
		"topic_key":         topic,
		"subtopic_key":      sub,
		"topic_title":       "Topic " + topic,
		"subtopic_title":    "Subtopic " + sub,
		"extracted_content": "content for " + sub,
		"confidence":        conf,
	}
}

var openPack = ContextPack{
	BookID:  "b1",
	PageNum: 8,
	OpenSubtopics: []OpenSubtopic{
		{Key: shards.Key{TopicKey: "motion", SubtopicKey: "speed"}, TopicTitle: "Motion", SubtopicTitle: "Speed", PageEnd: 6},
		{Key: shards.Key{TopicKey: "motion", SubtopicKey: "velocity"}, TopicTitle: "Motion", SubtopicTitle: "Velocity", PageEnd: 7},
	},
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		resp     string
		pack     ContextPack
		wantErr  error
		wantNew  bool
		wantKey  string
		wantConf float64
	}{
		{
			name:     "new topic",
			resp:     mustJSON(decision(true, "forces", "friction", 0.8)),
			pack:     openPack,
			wantNew:  true,
			wantKey:  "forces/friction",
			wantConf: 0.8,
		},
		{
			name:     "continuation of open subtopic",
			resp:     mustJSON(decision(false, "motion", "speed", 0.9)),
			pack:     openPack,
			wantKey:  "motion/speed",
			wantConf: 0.9,
		},
		{
			name: "confidence omitted defaults to one",
			resp: `{"is_new_topic":true,"topic_key":"a","subtopic_key":"b","topic_title":"A","subtopic_title":"B","extracted_content":"x"}`,
			pack: ContextPack{PageNum: 1}, wantNew: true, wantKey: "a/b", wantConf: 1,
		},
		{
			name:    "continuation of unknown subtopic",
			resp:    mustJSON(decision(false, "motion", "acceleration", 0.9)),
			pack:    openPack,
			wantErr: ErrInvalidDecision,
		},
		{
			name:    "continuation with nothing open",
			resp:    mustJSON(decision(false, "motion", "speed", 0.9)),
			pack:    ContextPack{PageNum: 1},
			wantErr: ErrInvalidDecision,
		},
		{
			name:    "bad slug rejected by schema",
			resp:    mustJSON(decision(true, "Motion Laws", "speed", 0.9)),
			pack:    openPack,
			wantErr: llm.ErrInvalidResponseSchema,
		},
		{
			name:    "missing field",
			resp:    `{"is_new_topic":true,"topic_key":"a","subtopic_key":"b"}`,
			pack:    openPack,
			wantErr: llm.ErrInvalidResponseSchema,
		},
		{
			name:    "whitespace content",
			resp:    `{"is_new_topic":true,"topic_key":"a","subtopic_key":"b","topic_title":"A","subtopic_title":"B","extracted_content":"   "}`,
			pack:    openPack,
			wantErr: ErrInvalidDecision,
		},
		{
			name:    "prose instead of json",
			resp:    "This page continues the speed subtopic.",
			pack:    openPack,
			wantErr: llm.ErrInvalidResponseSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := providers.NewMockClient().On(extract.BoundaryKey, func(*providers.ChatRequest) (string, error) {
				return tt.resp, nil
			})
			c := New(Config{Generator: testutil.NewPort(mock), Logger: testutil.Logger()})

			d, err := c.Classify(context.Background(), tt.pack, "page text")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !errors.Is(err, llm.ErrInvalidResponseSchema) {
					t.Errorf("every rejection should match ErrInvalidResponseSchema, got %v", err)
				}
				if mock.Calls(extract.BoundaryKey) != 1 {
					t.Errorf("invalid responses must not be retried, got %d calls", mock.Calls(extract.BoundaryKey))
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if d.IsNewTopic != tt.wantNew || d.Key().String() != tt.wantKey || d.Conf() != tt.wantConf {
				t.Errorf("decision = %+v", d)
			}
		})
	}
}

func TestClassifyPromptCarriesContext(t *testing.T) {
	var user string
	mock := providers.NewMockClient().On(extract.BoundaryKey, func(req *providers.ChatRequest) (string, error) {
		user = req.Messages[len(req.Messages)-1].Content
		return mustJSON(decision(false, "motion", "velocity", 1)), nil
	})
	c := New(Config{Generator: testutil.NewPort(mock)})

	pack := openPack
	pack.RecentSummaries = []PageSummary{{PageNum: 7, Summary: "velocity has direction"}}
	pack.BookSummary = "chapter on motion"
	if _, err := c.Classify(context.Background(), pack, "the page body"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"motion/velocity", "page 7: velocity has direction", "chapter on motion", "the page body"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestClassifyTransientFailure(t *testing.T) {
	mock := providers.NewMockClient().On(extract.BoundaryKey, func(*providers.ChatRequest) (string, error) {
		return "", &providers.ProviderError{Provider: "mock", Type: providers.ErrorTypeRateLimited, StatusCode: 429}
	})
	c := New(Config{Generator: testutil.NewPort(mock)})

	_, err := c.Classify(context.Background(), openPack, "text")
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if mock.Calls(extract.BoundaryKey) != 3 {
		t.Errorf("expected 3 attempts, got %d", mock.Calls(extract.BoundaryKey))
	}
}

func TestHysteresis(t *testing.T) {
	tests := []struct {
		name    string
		min     float64
		resp    map[string]any
		wantNew bool
		wantKey string
	}{
		{"disabled", 0, decision(true, "forces", "friction", 0.2), true, "forces/friction"},
		{"confident new kept", 0.6, decision(true, "forces", "friction", 0.7), true, "forces/friction"},
		{"weak new continues latest open", 0.6, decision(true, "forces", "friction", 0.3), false, "motion/velocity"},
		{"weak new with open key continues it", 0.6, decision(true, "motion", "speed", 0.3), false, "motion/speed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := providers.NewMockClient().RespondJSON(extract.BoundaryKey, tt.resp)
			c := New(Config{Generator: testutil.NewPort(mock), MinNewTopicConfidence: tt.min})
			d, err := c.Classify(context.Background(), openPack, "text")
			if err != nil {
				t.Fatal(err)
			}
			if d.IsNewTopic != tt.wantNew || d.Key().String() != tt.wantKey {
				t.Errorf("decision = %+v", d)
			}
			if !tt.wantNew && !d.Adjusted {
				t.Error("expected Adjusted")
			}
		})
	}
}
