package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestFromContext_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	logger := FromContext(nil)

	var buf bytes.Buffer
	out := logger.Output(&buf)
	out.Info().Msg("test")
	if buf.Len() == 0 {
		t.Error("expected logger to produce output")
	}
}

func TestFromContext_ContextWithoutLogger(t *testing.T) {
	logger := FromContext(context.Background())

	var buf bytes.Buffer
	out := logger.Output(&buf)
	out.Info().Msg("test")
	if buf.Len() == 0 {
		t.Error("expected logger to produce output")
	}
}

func TestWithLogger_AndFromContext(t *testing.T) {
	var buf bytes.Buffer
	custom := zerolog.New(&buf).With().Str("custom", "field").Logger()

	ctx := WithLogger(context.Background(), custom)
	log := FromContext(ctx)
	log.Info().Msg("test")

	if !strings.Contains(buf.String(), `"custom":"field"`) {
		t.Errorf("expected custom field in output, got: %s", buf.String())
	}
}

func TestWithLogger_NilContext(t *testing.T) {
	var buf bytes.Buffer

	//nolint:staticcheck // nil context is part of the contract
	ctx := WithLogger(nil, zerolog.New(&buf))
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}

	log := FromContext(ctx)
	log.Info().Msg("test")
	if buf.Len() == 0 {
		t.Error("expected logger to produce output")
	}
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	ctx, id := WithRunID(context.Background(), zerolog.New(&buf))

	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("run id %q is not a UUID: %v", id, err)
	}

	log := FromContext(ctx)
	log.Info().Msg("test")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["run_id"] != id {
		t.Errorf("run_id = %v, want %s", entry["run_id"], id)
	}

	_, other := WithRunID(context.Background(), zerolog.New(&buf))
	if other == id {
		t.Error("run ids should differ between runs")
	}
}

func TestWithFile(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))

	ctx = WithFile(ctx, "state-2012-03-15.csv")
	log := FromContext(ctx)
	log.Info().Msg("test")

	if !strings.Contains(buf.String(), `"file":"state-2012-03-15.csv"`) {
		t.Errorf("expected file field in output, got: %s", buf.String())
	}
}

func TestWithInt(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))

	ctx = WithInt(ctx, "row", 42)
	log := FromContext(ctx)
	log.Info().Msg("test")

	if !strings.Contains(buf.String(), `"row":42`) {
		t.Errorf("expected row field in output, got: %s", buf.String())
	}
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	log := DefaultLogger().Output(&buf)
	log.Info().Msg("test")
	if buf.Len() == 0 {
		t.Error("expected default logger to produce output")
	}
}

func TestChainedContexts(t *testing.T) {
	var buf bytes.Buffer
	ctx, id := WithRunID(context.Background(), zerolog.New(&buf))
	ctx = WithFile(ctx, "a-2012-03-15.csv")
	ctx = WithInt(ctx, "row", 5)

	log := FromContext(ctx)
	log.Info().Msg("test")

	out := buf.String()
	for _, want := range []string{`"run_id":"` + id + `"`, `"file":"a-2012-03-15.csv"`, `"row":5`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}
