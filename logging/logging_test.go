package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithBindsFieldsVisibleInOutput(t *testing.T) {
	var buf bytes.Buffer
	base := FromZerolog(zerolog.New(&buf))
	log := base.With("stream_id", uint32(7), "component", "sender")

	log.Warnf("queue full, dropping frame %d", 42)

	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte(`"stream_id":7`)) {
		t.Fatalf("expected stream_id field bound in output, got %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"sender"`)) {
		t.Fatalf("expected component field bound in output, got %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("queue full, dropping frame 42")) {
		t.Fatalf("expected formatted message in output, got %s", out)
	}
}

func TestDebugfRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	base := FromZerolog(zerolog.New(&buf).Level(zerolog.InfoLevel))
	base.Debugf("should not appear")

	if buf.Len() != 0 {
		t.Fatalf("expected debug line suppressed at info level, got %s", buf.String())
	}
}
