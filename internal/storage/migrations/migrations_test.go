package migrations

import (
	"testing"
	"testing/fstest"
)

func TestReadFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql":   {Data: []byte("SELECT 2;")},
		"pg/001_a.sql":   {Data: []byte("SELECT 1;")},
		"pg/003_e.sql":   {Data: []byte("  \n")},
		"pg/README.md":   {Data: []byte("docs")},
		"pg/sub/004.sql": {Data: []byte("SELECT 4;")},
	}
	files, err := readFiles(fsys, "pg")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Version != "001_a" || files[1].Version != "002_b" {
		t.Errorf("versions = %s, %s", files[0].Version, files[1].Version)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := readFiles(PostgresFS, "postgres")
	if err != nil {
		t.Fatal(err)
	}
	if len(pg) == 0 {
		t.Fatal("no postgres migrations embedded")
	}
	ch, err := readFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range ch {
		if _, err := splitStatements(f.SQL); err != nil {
			t.Errorf("%s: %v", f.Version, err)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	in := "-- header\nCREATE TABLE a (x String);\n\nINSERT INTO a VALUES ('it''s');\n"
	stmts, err := splitStatements(in)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"CREATE TABLE a (x String)", "INSERT INTO a VALUES ('it''s')"}
	if len(stmts) != len(want) {
		t.Fatalf("got %q", stmts)
	}
	for i := range want {
		if stmts[i] != want[i] {
			t.Errorf("stmt %d = %q, want %q", i, stmts[i], want[i])
		}
	}

	if _, err := splitStatements("INSERT INTO a VALUES ('x;y');"); err == nil {
		t.Error("expected error for quoted semicolon")
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://user:pw@localhost:9000/swaps?dial_timeout=5s")
	if err != nil || db != "swaps" {
		t.Errorf("got %q, %v", db, err)
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err == nil {
		t.Error("expected error for missing database")
	}
}
