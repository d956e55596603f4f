package logutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestLevelsAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
		SetJSON(false)
	})

	SetVerbose(false)
	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("debug logged at info level: %q", buf.String())
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false")
	}
	Debugf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("debug missing: %q", buf.String())
	}

	buf.Reset()
	SetJSON(true)
	Warnf("persist failed: %s", "disk full")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON: %q", buf.String())
	}
	if line["msg"] != "persist failed: disk full" || !strings.Contains(fmt.Sprint(line["prefix"]), "xrelay") {
		t.Errorf("line = %v", line)
	}
}
