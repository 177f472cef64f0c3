package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Pages int    `json:"pages" yaml:"pages"`
}

func TestOutputTo(t *testing.T) {
	in := sample{Name: "remit.pdf", Pages: 45}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatJSON, in); err != nil {
			t.Fatalf("OutputTo() error = %v", err)
		}
		var got sample
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if got != in {
			t.Errorf("got %+v, want %+v", got, in)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatYAML, in); err != nil {
			t.Fatalf("OutputTo() error = %v", err)
		}
		var got sample
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid yaml: %v", err)
		}
		if got != in {
			t.Errorf("got %+v, want %+v", got, in)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := OutputTo(&bytes.Buffer{}, "toml", in); err == nil {
			t.Error("expected error")
		}
	})
}

func TestSetOutputFormat(t *testing.T) {
	defer SetOutputFormat(string(DefaultOutput))

	if err := SetOutputFormat("json"); err != nil {
		t.Fatalf("SetOutputFormat(json) error = %v", err)
	}
	if GetOutputFormat() != OutputFormatJSON {
		t.Errorf("format = %s", GetOutputFormat())
	}
	if err := SetOutputFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
	if GetOutputFormat() != OutputFormatJSON {
		t.Error("invalid format should leave the current one in place")
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json handler filters by level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "warn", "json")
		if err != nil {
			t.Fatalf("NewLogger() error = %v", err)
		}
		logger.Info("hidden")
		logger.Warn("shown", "chunk", 2)

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Error("info record should be filtered")
		}
		if !strings.Contains(out, `"chunk":2`) {
			t.Errorf("output = %s", out)
		}
	})

	t.Run("bad level", func(t *testing.T) {
		if _, err := NewLogger(&bytes.Buffer{}, "loud", "text"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("bad format", func(t *testing.T) {
		if _, err := NewLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
			t.Error("expected error")
		}
	})
}
