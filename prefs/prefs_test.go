package prefs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/knowdash/dbopen"
)

func TestSQLite_GetSet(t *testing.T) {
	st, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if _, ok, err := st.Get(ctx, "data_mode"); err != nil || ok {
		t.Fatalf("unset key: ok=%v err=%v", ok, err)
	}
	if err := st.Set(ctx, "data_mode", "real"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.Set(ctx, "data_mode", "sample"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := st.Get(ctx, "data_mode")
	if err != nil || !ok || v != "sample" {
		t.Errorf("get: got %q ok=%v err=%v", v, ok, err)
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	ctx := context.Background()

	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	st, err := NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "data_mode", "real"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	st, err = NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	v, ok, _ := st.Get(ctx, "data_mode")
	if !ok || v != "real" {
		t.Errorf("after reopen: got %q ok=%v", v, ok)
	}
}

func TestMemory(t *testing.T) {
	var s Store = NewMemory()
	ctx := context.Background()
	if _, ok, _ := s.Get(ctx, "x"); ok {
		t.Fatal("empty store reported key")
	}
	s.Set(ctx, "x", "1")
	if v, ok, _ := s.Get(ctx, "x"); !ok || v != "1" {
		t.Errorf("got %q ok=%v", v, ok)
	}
}
