package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/airswap/aggregator-aggregator/internal/config"
	"github.com/airswap/aggregator-aggregator/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: []model.AggregatedQuoteResponse{{
			QuoteResponse: model.QuoteResponse{DestinationAmount: "2000000000"},
			FetchTimeMS:   120,
			Aggregator:    "paraswap",
		}},
		Meta: model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"aggregator", "destinationAmount"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["aggregator"] != "paraswap" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["fetchTime"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data: []model.AggregatedQuoteResponse{{
			QuoteResponse: model.QuoteResponse{DestinationAmount: "5"},
			Aggregator:    "dexag",
		}},
		Meta: model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "aggregator=dexag") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderFullEnvelope(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    map[string]any{"count": 3},
		Meta:    model.EnvelopeMeta{Command: "tokens list", Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json"}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var decoded model.Envelope
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if decoded.Version != "v1" || !decoded.Success {
		t.Fatalf("unexpected envelope: %s", buf.String())
	}
	if decoded.Meta.Command != "tokens list" {
		t.Fatalf("meta must round-trip, got %s", decoded.Meta.Command)
	}
}
