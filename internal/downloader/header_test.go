package downloader

import "testing"

func TestParseHeaderDecodesVersionAndRecordCount(t *testing.T) {
	h, err := parseHeader([]byte(`{"type":"header","version":{"major":3,"minor":1,"patch":0,"dateOfCreation":"2026-01-01"},"records":42}`))
	if err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if h.Type != "header" || h.Version.Major != 3 || h.Version.Minor != 1 || h.Records != 42 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestParseHeaderRejectsInvalidJSON(t *testing.T) {
	if _, err := parseHeader([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}
