package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_DoesNotPanic(t *testing.T) {
	Init(false, false)
	L().Info().Msg("json info")

	Init(true, false)
	L().Debug().Msg("json debug")

	Init(false, true)
	L().Info().Msg("human info")

	Init(true, true)
	L().Debug().Msg("human debug")

	Init(false, false)
}

func TestInit_SetsPrettyMode(t *testing.T) {
	Init(false, true)
	if !IsPrettyMode() {
		t.Error("human mode should enable pretty companions")
	}
	Init(false, false)
	if IsPrettyMode() {
		t.Error("json mode should disable pretty companions")
	}
}

func TestWithPhase(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer Init(false, false)

	log := WithPhase("ingest")
	log.Info().Msg("test message")

	if !bytes.Contains(buf.Bytes(), []byte(`"phase":"ingest"`)) {
		t.Errorf("expected phase field in output, got: %s", buf.String())
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).With().Str("custom", "field").Logger())
	defer Init(false, false)

	L().Info().Msg("test")

	if !bytes.Contains(buf.Bytes(), []byte(`"custom":"field"`)) {
		t.Errorf("expected custom field in output, got: %s", buf.String())
	}
}
