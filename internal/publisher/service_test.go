package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/testsupport"
)

func TestRegister_NormalizesAndDeduplicates(t *testing.T) {
	store := testsupport.NewMemStore()
	svc := NewService(store.Repos().Publishers)
	ctx := context.Background()

	p1, created, err := svc.Register(ctx, "  AWS ", "TechTeam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || p1.Name != "aws" || p1.Type != model.PublisherTypeTechTeam {
		t.Errorf("unexpected publisher: %+v created=%v", p1, created)
	}

	p2, created, err := svc.Register(ctx, "aws", "techteam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || p2.ID != p1.ID {
		t.Errorf("expected existing publisher to be returned, got %+v created=%v", p2, created)
	}
	if n := len(store.Publishers()); n != 1 {
		t.Errorf("expected 1 publisher row, got %d", n)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := NewService(testsupport.NewMemStore().Repos().Publishers)
	ctx := context.Background()

	var appErr *model.AppError
	if _, _, err := svc.Register(ctx, "  ", "techteam"); !errors.As(err, &appErr) || appErr.Code != model.ErrCodeInvalidPublisherName {
		t.Errorf("expected INVALID_PUBLISHER_NAME, got %v", err)
	}
	if _, _, err := svc.Register(ctx, "aws", "corporate"); !errors.As(err, &appErr) || appErr.Code != model.ErrCodeInvalidPublisherType {
		t.Errorf("expected INVALID_PUBLISHER_TYPE, got %v", err)
	}
}

func TestList_TypeAndSearch(t *testing.T) {
	store := testsupport.NewMemStore()
	svc := NewService(store.Repos().Publishers)
	ctx := context.Background()
	for _, p := range []struct{ name, typ string }{
		{"netflix", "techteam"},
		{"netlify", "techteam"},
		{"martinfowler", "individual"},
	} {
		if _, _, err := svc.Register(ctx, p.name, p.typ); err != nil {
			t.Fatal(err)
		}
	}

	all, err := svc.List(ctx, "", "")
	if err != nil || len(all) != 3 {
		t.Fatalf("List() = %d, %v; want 3", len(all), err)
	}

	teams, err := svc.List(ctx, "techteam", "NET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(teams) != 2 || teams[0].Name != "netflix" || teams[1].Name != "netlify" {
		t.Errorf("unexpected search result: %+v", teams)
	}

	if _, err := svc.List(ctx, "bogus", ""); err == nil {
		t.Error("expected error for invalid type")
	}
}

func TestFindByName_NotFound(t *testing.T) {
	svc := NewService(testsupport.NewMemStore().Repos().Publishers)

	_, err := svc.FindByName(context.Background(), "github")
	var appErr *model.AppError
	if !errors.As(err, &appErr) || appErr.Code != model.ErrCodePublisherNotFound {
		t.Errorf("expected PUBLISHER_NOT_FOUND, got %v", err)
	}
}
