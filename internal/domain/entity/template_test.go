package entity

import (
	"errors"
	"testing"
)

const validTemplate = `{
	"id": "clinical",
	"name": "Clinical letter",
	"instructionBody": "Write a letter for {{patientName}}",
	"roleText": "You are a clinical assistant.",
	"temperature": 0.2,
	"maxTokens": 1500,
	"version": 3,
	"isActive": true
}`

func TestParseTemplateRecord(t *testing.T) {
	rec, err := ParseTemplateRecord([]byte(validTemplate))
	if err != nil {
		t.Fatalf("ParseTemplateRecord: %v", err)
	}
	want := TemplateRecord{
		ID:              "clinical",
		Name:            "Clinical letter",
		InstructionBody: "Write a letter for {{patientName}}",
		RoleText:        "You are a clinical assistant.",
		Temperature:     0.2,
		MaxTokens:       1500,
		Version:         3,
		IsActive:        true,
	}
	if rec != want {
		t.Fatalf("got %+v\nwant %+v", rec, want)
	}
}

func TestParseTemplateRecordRejectsMalformed(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `{"id":`, "$"},
		{"array", `[1,2]`, "$"},
		{"missing roleText", `{"id":"a","name":"n","instructionBody":"b","temperature":0.1,"maxTokens":1,"version":1,"isActive":true}`, "roleText"},
		{"string temperature", `{"id":"a","name":"n","instructionBody":"b","roleText":"r","temperature":"0.1","maxTokens":1,"version":1,"isActive":true}`, "temperature"},
		{"fractional maxTokens", `{"id":"a","name":"n","instructionBody":"b","roleText":"r","temperature":0.1,"maxTokens":1.5,"version":1,"isActive":true}`, "maxTokens"},
		{"string bool", `{"id":"a","name":"n","instructionBody":"b","roleText":"r","temperature":0.1,"maxTokens":1,"version":1,"isActive":"true"}`, "isActive"},
		{"inactive", `{"id":"a","name":"n","instructionBody":"b","roleText":"r","temperature":0.1,"maxTokens":1,"version":1,"isActive":false}`, "isActive"},
		{"empty instruction", `{"id":"a","name":"n","instructionBody":"","roleText":"r","temperature":0.1,"maxTokens":1,"version":1,"isActive":true}`, "instructionBody"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTemplateRecord([]byte(tc.raw))
			var shapeErr *TemplateShapeError
			if !errors.As(err, &shapeErr) {
				t.Fatalf("expected TemplateShapeError, got %v", err)
			}
			if shapeErr.Field != tc.field {
				t.Fatalf("field = %q, want %q", shapeErr.Field, tc.field)
			}
		})
	}
}

func TestGenerationRequestIsImmutable(t *testing.T) {
	vars := map[string]string{"patientName": "Ana"}
	req, err := NewGenerationRequest("letter-1", "clinical", vars)
	if err != nil {
		t.Fatalf("NewGenerationRequest: %v", err)
	}
	vars["patientName"] = "Bob"
	got := req.Variables()
	if got["patientName"] != "Ana" {
		t.Fatalf("request observed caller mutation: %v", got)
	}
	got["patientName"] = "Eve"
	if req.Variables()["patientName"] != "Ana" {
		t.Fatalf("request observed accessor mutation")
	}

	if _, err := NewGenerationRequest(" ", "clinical", nil); err == nil {
		t.Fatal("expected error for empty target")
	}
	if _, err := NewGenerationRequest("letter-1", "", nil); err == nil {
		t.Fatal("expected error for empty template")
	}
}

func TestSessionStateIsTerminal(t *testing.T) {
	terminal := map[SessionState]bool{
		SessionStateIdle:       false,
		SessionStateStarting:   false,
		SessionStateStreaming:  false,
		SessionStatePersisting: false,
		SessionStateDone:       true,
		SessionStateFailed:     true,
		SessionStateCancelled:  true,
	}
	for s, want := range terminal {
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v", s, !want)
		}
	}
}
