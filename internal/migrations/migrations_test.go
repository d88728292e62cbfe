package migrations

import (
	"strings"
	"testing"
)

func TestAllOrdered(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("All error: %v", err)
	}
	if len(all) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(all))
	}
	if all[0].Name != "0001_user_images" {
		t.Fatalf("first migration = %q", all[0].Name)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Fatalf("migrations out of order: %q before %q", all[i-1].Name, all[i].Name)
		}
	}
	if !strings.Contains(all[0].SQL, "user_images_toonified_iff_complete") {
		t.Fatal("expected toonified/complete check constraint in schema")
	}
}
