package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	want := []string{"001_init.sql", "002_phone_lookup.sql"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for _, name := range names {
		data, err := Files.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			t.Fatalf("%s is empty", name)
		}
	}
}

func TestInitialSchemaCreatesTables(t *testing.T) {
	data, err := Files.ReadFile("001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"devices", "call_log", "contacts", "contact_phones", "blocked_numbers"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) && !strings.Contains(string(data), "CREATE TABLE "+table) {
			t.Errorf("001_init.sql does not create %s", table)
		}
	}
}
