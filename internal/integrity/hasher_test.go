package integrity

import (
	"strings"
	"testing"
)

func TestStampDeterministic(t *testing.T) {
	terms := map[string]interface{}{
		"total_sessions":    10,
		"price_per_session": 150000,
		"schedule":          []string{"Mon 18:00-19:30", "Wed 18:00-19:30"},
	}

	hash1, content1, err := Stamp(terms)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	hash2, content2, err := Stamp(terms)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	if hash1 != hash2 {
		t.Errorf("hash not deterministic: %s vs %s", hash1, hash2)
	}
	if content1 != content2 {
		t.Errorf("canonical content not deterministic")
	}
	if len(hash1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hash1))
	}
}

func TestStampKeyOrderIndependent(t *testing.T) {
	// Same logical terms built in different insertion orders must hash equal.
	a := map[string]interface{}{
		"subject": "Mathematics",
		"nested":  map[string]interface{}{"x": 1, "y": 2},
	}
	b := map[string]interface{}{
		"nested":  map[string]interface{}{"y": 2, "x": 1},
		"subject": "Mathematics",
	}

	hashA, _, err := Stamp(a)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	hashB, _, err := Stamp(b)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	if hashA != hashB {
		t.Errorf("hashes differ for equivalent terms: %s vs %s", hashA, hashB)
	}
}

func TestStampCanonicalContentSorted(t *testing.T) {
	_, content, err := Stamp(map[string]interface{}{
		"zeta":  1,
		"alpha": 2,
	})
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	if strings.Index(content, "alpha") > strings.Index(content, "zeta") {
		t.Errorf("keys not sorted in canonical content: %s", content)
	}
	if strings.Contains(content, " ") {
		t.Errorf("canonical content contains whitespace: %s", content)
	}
}

func TestVerify(t *testing.T) {
	hash, content, err := Stamp(map[string]interface{}{
		"total_sessions": 10,
	})
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	if !Verify(hash, content) {
		t.Error("Verify failed for untampered content")
	}
	if Verify(hash, content+" ") {
		t.Error("Verify passed for tampered content")
	}

	tampered := strings.Replace(content, "10", "12", 1)
	if Verify(hash, tampered) {
		t.Error("Verify passed for modified terms")
	}
}
