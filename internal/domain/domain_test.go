package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestContentHash_AutoV2(t *testing.T) {
	h := ContentHash("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	if got := h.AutoV2(); got != "0123456789" {
		t.Errorf("AutoV2() = %q, want %q", got, "0123456789")
	}

	short := ContentHash("abc")
	if got := short.AutoV2(); got != "abc" {
		t.Errorf("AutoV2() on short hash = %q, want %q", got, "abc")
	}
}

func TestCatalogRecord_SDVersion(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"SD 1.5", "SD 1.5"},
		{"SDXL 1.0", "SDXL 1.0"},
		{"Pony", "Other"},
		{"", "Other"},
	}
	for _, tt := range tests {
		r := CatalogRecord{BaseModel: tt.base}
		if got := r.SDVersion(); got != tt.want {
			t.Errorf("SDVersion(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestCatalogRecord_ActivationText(t *testing.T) {
	r := CatalogRecord{TrainedWords: []string{"anime", "1girl"}}
	if got := r.ActivationText(); got != "anime, 1girl" {
		t.Errorf("ActivationText() = %q", got)
	}

	empty := CatalogRecord{}
	if got := empty.ActivationText(); got != "" {
		t.Errorf("ActivationText() on empty = %q, want empty", got)
	}
}

func TestSidecarRecord_Equivalent(t *testing.T) {
	base := SidecarRecord{
		VersionID:      7,
		ModelID:        42,
		SDVersion:      "SD 1.5",
		ActivationText: "anime",
		TrainedWords:   []string{"anime"},
	}

	same := base
	same.Notes = "local notes differ"
	same.PreferredWeight = 0.8
	same.Provenance = Provenance{Status: StatusUpdated, LastSync: time.Now()}
	if !base.Equivalent(same) {
		t.Error("records differing only in local fields should be equivalent")
	}

	diffVersion := base
	diffVersion.VersionID = 8
	if base.Equivalent(diffVersion) {
		t.Error("different version id should not be equivalent")
	}

	diffWords := base
	diffWords.TrainedWords = []string{"anime", "extra"}
	if base.Equivalent(diffWords) {
		t.Error("different trained words should not be equivalent")
	}
}

func TestFromCatalog_PreservesLocalFields(t *testing.T) {
	prev := &SidecarRecord{
		PreferredWeight: 0.7,
		NegativeText:    "blurry",
		Notes:           "my favorite",
	}
	rec := CatalogRecord{VersionID: 7, ModelID: 42, BaseModel: "SD 1.5", TrainedWords: []string{"anime"}}
	out := FromCatalog("h1", rec, prev)

	if out.PreferredWeight != 0.7 || out.NegativeText != "blurry" || out.Notes != "my favorite" {
		t.Errorf("locally-authored fields not preserved: %+v", out)
	}
	if out.VersionID != 7 || out.ActivationText != "anime" || out.SDVersion != "SD 1.5" {
		t.Errorf("catalog fields not applied: %+v", out)
	}
}

func TestItemState_Terminal(t *testing.T) {
	for _, s := range []ItemState{StateDiscovered, StateHashing, StateResolving} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []ItemState{StateUpdated, StateUnchanged, StateNotFound, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestItemState_JSONRoundTrip(t *testing.T) {
	for s := StateDiscovered; s <= StateFailed; s++ {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %s: %v", s, err)
		}
		var back ItemState
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != s {
			t.Errorf("round trip %s: got %s", s, back)
		}
	}
}

func TestRunSummary_AbsorbIsOrderIndependent(t *testing.T) {
	items := []ItemReport{
		{State: StateUpdated},
		{State: StateUnchanged},
		{State: StateUnchanged},
		{State: StateNotFound},
		{State: StateFailed, Kind: KindTransient},
	}

	var forward, backward RunSummary
	for _, it := range items {
		forward.Absorb(it)
	}
	for i := len(items) - 1; i >= 0; i-- {
		backward.Absorb(items[i])
	}

	if forward.Updated != backward.Updated || forward.Unchanged != backward.Unchanged ||
		forward.NotFound != backward.NotFound || forward.Failed != backward.Failed ||
		forward.Total != backward.Total {
		t.Errorf("summary counts depend on order: %+v vs %+v", forward, backward)
	}
	if forward.Total != 5 || forward.Unchanged != 2 {
		t.Errorf("counts wrong: %+v", forward)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrTransient, KindTransient},
		{ErrPermanent, KindPermanent},
		{ErrNotFound, KindNotFound},
		{ErrTruncatedRead, KindTruncated},
		{ErrRunCancelled, KindCancelled},
		{ErrIO, KindIO},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestParseModelType(t *testing.T) {
	ok := map[string]ModelType{
		"checkpoint": TypeCheckpoint,
		"ckpt":       TypeCheckpoint,
		"LoRA":       TypeLORA,
		"embedding":  TypeEmbedding,
		" ti ":       TypeEmbedding,
	}
	for in, want := range ok {
		got, err := ParseModelType(in)
		if err != nil || got != want {
			t.Errorf("ParseModelType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}

	if _, err := ParseModelType("vae"); err == nil {
		t.Error("ParseModelType(\"vae\") should fail")
	}
}
