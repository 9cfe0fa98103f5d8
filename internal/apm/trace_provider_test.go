package apm

import (
	"context"
	"testing"

	"github.com/fd1az/pricestream/internal/logger"
)

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]string
		wantErr bool
	}{
		{"", map[string]string{}, false},
		{"x-honeycomb-team=abc", map[string]string{"x-honeycomb-team": "abc"}, false},
		{"a=1, b=2", map[string]string{"a": "1", "b": "2"}, false},
		{"novalue", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseHeaders(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseHeaders(%q) err = %v", tt.in, err)
		}
		if tt.wantErr {
			continue
		}
		if len(got) != len(tt.want) {
			t.Fatalf("ParseHeaders(%q) = %v", tt.in, got)
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("ParseHeaders(%q)[%s] = %q, want %q", tt.in, k, got[k], v)
			}
		}
	}
}

func TestNewTraceProvider_Console(t *testing.T) {
	tp, err := NewTraceProvider(logger.NewDiscard(), Config{ServiceName: "test", Provider: ConsoleProvider})
	if err != nil {
		t.Fatalf("NewTraceProvider: %v", err)
	}
	defer tp.Stop()

	_, span := NewTracer("test").StartSpanFromContext(context.Background(), "op")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span context")
	}
	span.End()
}

func TestNewTraceProvider_Unknown(t *testing.T) {
	if _, err := NewTraceProvider(logger.NewDiscard(), Config{Provider: "jaeger"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
