package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Message string `json:"message"`
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
		want        string
	}{
		{name: "valid", contentType: "application/json", body: `{"message":"hi"}`, want: "hi"},
		{name: "charset suffix", contentType: "application/json; charset=utf-8", body: `{"message":"hi"}`, want: "hi"},
		{name: "no content type", body: `{"message":"hi"}`, want: "hi"},
		{name: "form content type", contentType: "application/x-www-form-urlencoded", body: `message=hi`, wantErr: true},
		{name: "empty body", contentType: "application/json", body: ``, wantErr: true},
		{name: "unknown field", contentType: "application/json", body: `{"msg":"hi"}`, wantErr: true},
		{name: "two objects", contentType: "application/json", body: `{"message":"a"}{"message":"b"}`, wantErr: true},
		{name: "too large", contentType: "application/json", body: `{"message":"` + strings.Repeat("x", maxJSONBody) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			var got payload
			err := DecodeJSON(httptest.NewRecorder(), r, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Message != tt.want {
				t.Errorf("DecodeJSON() message = %q, want %q", got.Message, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"receipt.jpg", "receipt.jpg"},
		{"  note.webm  ", "note.webm"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\ana\scan.png`, "scan.png"},
		{"bad\x00name\n.jpg", "badname.jpg"},
		{`quo"te.jpg`, "quote.jpg"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
