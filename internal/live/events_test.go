package live

import (
	"encoding/base64"
	"testing"
)

func TestParseServerEvent_TranscriptionFragments(t *testing.T) {
	ev, err := parseServerEvent([]byte(`{"serverContent":{"inputTranscription":{"text":"Hello"},"outputTranscription":{"text":"Hi there"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.InputTranscription != "Hello" {
		t.Fatalf("input fragment = %q", ev.InputTranscription)
	}
	if ev.OutputTranscription != "Hi there" {
		t.Fatalf("output fragment = %q", ev.OutputTranscription)
	}
	if ev.TurnComplete || len(ev.Audio) != 0 {
		t.Fatalf("unexpected extra facets: %+v", ev)
	}
}

func TestParseServerEvent_CombinedFacets(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0x02, 0x00}
	raw := `{"serverContent":{` +
		`"inputTranscription":{"text":"so"},` +
		`"turnComplete":true,` +
		`"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}}]}}}`
	ev, err := parseServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.InputTranscription != "so" || !ev.TurnComplete || len(ev.Audio) != len(pcm) {
		t.Fatalf("facets lost on combined event: %+v", ev)
	}
}

func TestParseServerEvent_MalformedAudioDropsPayloadOnly(t *testing.T) {
	raw := `{"serverContent":{"turnComplete":true,"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"%%%"}}]}}}`
	ev, err := parseServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("malformed audio must not fail the event: %v", err)
	}
	if len(ev.Audio) != 0 {
		t.Fatalf("expected audio facet dropped")
	}
	if !ev.TurnComplete {
		t.Fatalf("surviving facets must still apply")
	}
}

func TestParseServerEvent_RemoteError(t *testing.T) {
	ev, err := parseServerEvent([]byte(`{"error":{"code":8,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Err == nil {
		t.Fatalf("expected remote error facet")
	}
}

func TestParseServerEvent_GoAwayMapsToClosed(t *testing.T) {
	ev, err := parseServerEvent([]byte(`{"goAway":{}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ev.Closed {
		t.Fatalf("expected closed facet")
	}
}

func TestParseServerEvent_BadJSON(t *testing.T) {
	if _, err := parseServerEvent([]byte("not-json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseServerEvent_SetupCompleteIsEmpty(t *testing.T) {
	ev, err := parseServerEvent([]byte(`{"setupComplete":{}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ev.Empty() {
		t.Fatalf("setup ack should carry no facets: %+v", ev)
	}
}
