package models

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Stage
		to      Stage
		wantErr bool
	}{
		{"received to classified", StageReceived, StageClassified, false},
		{"classification failure", StageReceived, StageFinalized, false},
		{"source archive normalized", StageClassified, StageNormalized, false},
		{"direct upload", StageClassified, StageUploaded, false},
		{"normalized to uploaded", StageNormalized, StageUploaded, false},
		{"uploaded to finalized", StageUploaded, StageFinalized, false},
		{"skip classification", StageReceived, StageUploaded, true},
		{"backwards", StageUploaded, StageClassified, true},
		{"finalized is terminal", StageFinalized, StageReceived, true},
		{"no self loop", StageClassified, StageClassified, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestItemLifecycle(t *testing.T) {
	item := NewItem("/in/scan.dcm")
	if len(item.ID) != 8 {
		t.Errorf("ID = %q, want 8 chars", item.ID)
	}
	if item.Name() != "scan.dcm" {
		t.Errorf("Name() = %q", item.Name())
	}
	if item.Location != LocationInbound || item.Stage != StageReceived {
		t.Fatalf("new item state = %s/%s", item.Location, item.Stage)
	}

	if err := item.Classified(KindOpaqueBinary); err != nil {
		t.Fatalf("Classified: %v", err)
	}
	if err := item.Advance(StageUploaded); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := item.Finalized(LocationProcessed, "/done/scan.dcm"); err != nil {
		t.Fatalf("Finalized: %v", err)
	}
	if !item.Succeeded() {
		t.Error("Succeeded() = false after processed finalization")
	}
	if err := item.Advance(StageUploaded); err == nil {
		t.Error("expected error advancing a finalized item")
	}
}

func TestItemFailKeepsFirstError(t *testing.T) {
	item := NewItem("/in/x")
	first := errors.New("first")
	item.Fail(first)
	item.Fail(errors.New("second"))
	if !errors.Is(item.Err, first) {
		t.Errorf("Err = %v, want first", item.Err)
	}
	if err := item.Finalized(LocationFailed, "/failed/x"); err != nil {
		t.Fatalf("Finalized: %v", err)
	}
	if item.Succeeded() {
		t.Error("failed item reported success")
	}
}

func TestContentKindString(t *testing.T) {
	kinds := map[ContentKind]string{
		KindUnknown:          "unknown",
		KindSourceArchive:    "source-archive",
		KindCanonicalArchive: "canonical-archive",
		KindOpaqueBinary:     "opaque-binary",
		KindUnsupported:      "unsupported",
		ContentKind(42):      "kind(42)",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
	if KindUnsupported.Uploadable() || KindUnknown.Uploadable() {
		t.Error("unsupported/unknown must not be uploadable")
	}
}
