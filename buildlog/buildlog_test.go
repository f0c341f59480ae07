package buildlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/fwdslsh/unify-sub006/dbopen"
	"github.com/fwdslsh/unify-sub006/idgen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := &Store{DB: dbopen.OpenMemory(t), NewID: idgen.Sequence("bld_")}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestBuildLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b, err := s.StartBuild(ctx, "src", "dist")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.ID != "bld_1" || b.Status != StatusRunning {
		t.Fatalf("got %+v", b)
	}

	pages := []*Page{
		{BuildID: b.ID, Path: "index.html", Success: true, Layouts: 2, Warnings: []string{"w1"}, Duration: 12 * time.Millisecond},
		{BuildID: b.ID, Path: "about.html", Success: true, Components: 1},
	}
	for _, p := range pages {
		if err := s.RecordPage(ctx, p); err != nil {
			t.Fatalf("record %s: %v", p.Path, err)
		}
	}

	done, err := s.FinishBuild(ctx, b.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != StatusDone || done.Pages != 2 || done.Failed != 0 {
		t.Errorf("finished build: %+v", done)
	}
	if done.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	got, err := s.Pages(ctx, b.ID)
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d pages, want 2", len(got))
	}
	// Ordered by path.
	if got[0].Path != "about.html" || got[1].Path != "index.html" {
		t.Errorf("order: %s, %s", got[0].Path, got[1].Path)
	}
	idx := got[1]
	if diff := cmp.Diff([]string{"w1"}, idx.Warnings); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
	if idx.Layouts != 2 || idx.Duration != 12*time.Millisecond {
		t.Errorf("index page: %+v", idx)
	}
	if got[0].RecoverableErrors == nil || len(got[0].RecoverableErrors) != 0 {
		t.Errorf("empty lists should decode as empty, got %#v", got[0].RecoverableErrors)
	}
}

func TestFinishBuild_Failed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	b, err := s.StartBuild(ctx, "src", "dist")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	s.RecordPage(ctx, &Page{BuildID: b.ID, Path: "a.html", Success: true})
	s.RecordPage(ctx, &Page{BuildID: b.ID, Path: "b.html", Success: false, Error: "circular dependency"})

	done, err := s.FinishBuild(ctx, b.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Status != StatusFailed || done.Failed != 1 || done.Pages != 2 {
		t.Errorf("got %+v", done)
	}
}

func TestRecordPage_Upsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	b, _ := s.StartBuild(ctx, "src", "dist")

	s.RecordPage(ctx, &Page{BuildID: b.ID, Path: "a.html", Success: false, Error: "boom"})
	if err := s.RecordPage(ctx, &Page{BuildID: b.ID, Path: "a.html", Success: true}); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := s.Pages(ctx, b.ID)
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(got) != 1 || !got[0].Success || got[0].Error != "" {
		t.Errorf("got %+v", got)
	}
}

func TestRecordPage_RequiresKeys(t *testing.T) {
	s := testStore(t)
	if err := s.RecordPage(context.Background(), &Page{Path: "a.html"}); err == nil {
		t.Fatal("expected error without build ID")
	}
}

func TestFinishBuild_Unknown(t *testing.T) {
	s := testStore(t)
	if _, err := s.FinishBuild(context.Background(), "bld_missing"); err == nil {
		t.Fatal("expected error for unknown build")
	}
}

func TestLastBuild(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	last, err := s.LastBuild(ctx)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil on empty log, got %+v", last)
	}

	s.StartBuild(ctx, "src", "dist")
	second, _ := s.StartBuild(ctx, "src", "dist")

	last, err = s.LastBuild(ctx)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last == nil || last.ID != second.ID {
		t.Errorf("got %+v, want %s", last, second.ID)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "build.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	b, err := s.StartBuild(context.Background(), "src", "dist")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := idgen.ParseBuildID(b.ID); err != nil {
		t.Errorf("default build ID: %v", err)
	}
}
