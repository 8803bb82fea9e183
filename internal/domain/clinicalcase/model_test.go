package clinicalcase

import (
	"reflect"
	"regexp"
	"testing"
)

func TestCase_AddFiles(t *testing.T) {
	c := &Case{Files: []string{"a", "b"}}

	if n := c.AddFiles([]string{"b", "c", "", "a", "d", "c"}); n != 2 {
		t.Errorf("expected 2 added, got %d", n)
	}
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(c.Files, want) {
		t.Errorf("expected %v, got %v", want, c.Files)
	}

	if n := c.AddFiles([]string{"d", "c"}); n != 0 {
		t.Errorf("expected second union to add nothing, got %d", n)
	}
	if len(c.Files) != 4 {
		t.Errorf("expected 4 files, got %v", c.Files)
	}
}

func TestNewPatientID(t *testing.T) {
	re := regexp.MustCompile(`^PAT-[0-9A-F]{8}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := NewPatientID()
		if err != nil {
			t.Fatal(err)
		}
		if !re.MatchString(id) {
			t.Fatalf("unexpected patient id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 45 {
		t.Errorf("expected mostly distinct ids, got %d distinct of 50", len(seen))
	}
}

func TestNewHospitalID(t *testing.T) {
	id, err := NewHospitalID("sgh")
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^SGH-\d{4}$`).MatchString(id) {
		t.Errorf("unexpected hospital id %q", id)
	}

	for _, bad := range []string{"", "AB", "ABCD", "A1C"} {
		if _, err := NewHospitalID(bad); err == nil {
			t.Errorf("expected error for prefix %q", bad)
		}
	}
}
