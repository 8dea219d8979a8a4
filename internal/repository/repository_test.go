package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/blogdigest/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func assertExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

var (
	publisherCols    = []string{"id", "name", "type", "last_scraped_at", "created_at"}
	postCols         = []string{"id", "publisher_id", "url", "title", "tags", "published_at", "modified_at", "topic", "labelled", "created_at"}
	subscriptionCols = []string{"id", "email", "publisher_id", "topic", "frequency_in_days", "joined_time", "last_notified_at", "active"}
	notificationCols = []string{"id", "subscription_id", "email", "heading", "post_url", "post_title", "maturity_date", "deleted", "created_at", "delivered_at"}
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// --- Publisher ---

func TestPostgresPublisherRepo_Create_Inserted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPublisherRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO publishers")).
		WithArgs("pub-1", "aws", "techteam", nil, testNow).
		WillReturnRows(sqlmock.NewRows(publisherCols).AddRow("pub-1", "aws", "techteam", nil, testNow))

	p, created, err := repo.Create(context.Background(), &model.Publisher{
		ID: "pub-1", Name: "aws", Type: model.PublisherTypeTechTeam, CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !created {
		t.Error("expected created = true")
	}
	if p.LastScrapedAt != nil {
		t.Errorf("LastScrapedAt = %v, want nil", p.LastScrapedAt)
	}
	assertExpectations(t, mock)
}

func TestPostgresPublisherRepo_Create_ConflictReturnsExisting(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPublisherRepo(db)

	scraped := testNow.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (name) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(publisherCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM publishers WHERE name = $1")).
		WithArgs("aws").
		WillReturnRows(sqlmock.NewRows(publisherCols).AddRow("pub-old", "aws", "techteam", scraped, testNow))

	p, created, err := repo.Create(context.Background(), &model.Publisher{
		ID: "pub-new", Name: "aws", Type: model.PublisherTypeTechTeam, CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created {
		t.Error("expected created = false on conflict")
	}
	if p.ID != "pub-old" {
		t.Errorf("ID = %q, want existing pub-old", p.ID)
	}
	if p.LastScrapedAt == nil || !p.LastScrapedAt.Equal(scraped) {
		t.Errorf("LastScrapedAt = %v, want %v", p.LastScrapedAt, scraped)
	}
	assertExpectations(t, mock)
}

func TestPostgresPublisherRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPublisherRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM publishers WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	p, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if p != nil {
		t.Errorf("expected nil publisher, got %+v", p)
	}
	assertExpectations(t, mock)
}

func TestPostgresPublisherRepo_ListScrapeCandidates(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPublisherRepo(db)

	mock.ExpectQuery(`(?s)FROM publishers p.*WHERE p.type = \$1.*s.active = true`).
		WithArgs("techteam").
		WillReturnRows(sqlmock.NewRows(publisherCols).
			AddRow("pub-1", "aws", "techteam", nil, testNow).
			AddRow("pub-2", "netflix", "techteam", testNow, testNow))

	pubs, err := repo.ListScrapeCandidates(context.Background())
	if err != nil {
		t.Fatalf("ListScrapeCandidates() error = %v", err)
	}
	if len(pubs) != 2 {
		t.Fatalf("len = %d, want 2", len(pubs))
	}
	if pubs[1].LastScrapedAt == nil {
		t.Error("expected LastScrapedAt for second publisher")
	}
	assertExpectations(t, mock)
}

func TestPostgresPublisherRepo_List_FilterByType(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPublisherRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM publishers WHERE type = $1")).
		WithArgs("community").
		WillReturnRows(sqlmock.NewRows(publisherCols).AddRow("pub-3", "devto", "community", nil, testNow))

	pubs, err := repo.List(context.Background(), model.PublisherTypeCommunity)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pubs) != 1 || pubs[0].Type != model.PublisherTypeCommunity {
		t.Errorf("unexpected result: %+v", pubs)
	}
	assertExpectations(t, mock)
}

// --- Post ---

func TestPostgresPostRepo_InsertIfAbsent_ExistingRowUnchanged(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPostRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (url) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(postCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts WHERE url = $1")).
		WithArgs("https://example.com/u1").
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(
			"post-old", "pub-1", "https://example.com/u1", "Original", "{go,aws}",
			testNow, testNow, "Software Engineering", true, testNow,
		))

	stored, inserted, err := repo.InsertIfAbsent(context.Background(), &model.Post{
		ID: "post-new", PublisherID: "pub-1", URL: "https://example.com/u1", Title: "Changed",
		Topic: model.TopicGeneral, PublishedAt: testNow, ModifiedAt: testNow, CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("InsertIfAbsent() error = %v", err)
	}
	if inserted {
		t.Error("expected inserted = false for duplicate URL")
	}
	if stored.ID != "post-old" || stored.Title != "Original" || !stored.Labelled {
		t.Errorf("expected existing row unchanged, got %+v", stored)
	}
	if len(stored.Tags) != 2 || stored.Tags[1] != "aws" {
		t.Errorf("Tags = %v, want [go aws]", stored.Tags)
	}
	assertExpectations(t, mock)
}

func TestPostgresPostRepo_ListLabelled(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPostRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE publisher_id = $1 AND topic = $2 AND labelled = true")).
		WithArgs("pub-1", "Data Science").
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(
			"post-1", "pub-1", "https://example.com/ds", "DS", "{}",
			testNow, testNow, "Data Science", true, testNow,
		))

	posts, err := repo.ListLabelled(context.Background(), "pub-1", model.TopicDataScience)
	if err != nil {
		t.Fatalf("ListLabelled() error = %v", err)
	}
	if len(posts) != 1 || posts[0].Topic != model.TopicDataScience {
		t.Errorf("unexpected posts: %+v", posts)
	}
	assertExpectations(t, mock)
}

func TestPostgresPostRepo_Relabel(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPostRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE posts SET topic = $2, labelled = true, modified_at = $3")).
		WithArgs("post-1", "Software Testing", testNow).
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(
			"post-1", "pub-1", "https://example.com/t", "T", "{}",
			testNow.Add(-time.Hour), testNow, "Software Testing", true, testNow.Add(-time.Hour),
		))

	p, err := repo.Relabel(context.Background(), "post-1", model.TopicSoftwareTesting, testNow)
	if err != nil {
		t.Fatalf("Relabel() error = %v", err)
	}
	if !p.Labelled || !p.ModifiedAt.Equal(testNow) {
		t.Errorf("unexpected post after relabel: %+v", p)
	}
	assertExpectations(t, mock)
}

func TestPostgresPostRepo_Relabel_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPostRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE posts")).
		WillReturnRows(sqlmock.NewRows(postCols))

	p, err := repo.Relabel(context.Background(), "missing", model.TopicGeneral, testNow)
	if err != nil {
		t.Fatalf("Relabel() error = %v", err)
	}
	if p != nil {
		t.Errorf("expected nil, got %+v", p)
	}
	assertExpectations(t, mock)
}

// --- Subscription ---

func TestPostgresSubscriptionRepo_Create_Conflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSubscriptionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (email, publisher_id, topic) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(subscriptionCols))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE email = $1 AND publisher_id = $2 AND topic = $3")).
		WithArgs("a@x.com", "pub-1", "Software Engineering").
		WillReturnRows(sqlmock.NewRows(subscriptionCols).AddRow(
			"sub-old", "a@x.com", "pub-1", "Software Engineering", 1, testNow, nil, false,
		))

	sub, created, err := repo.Create(context.Background(), &model.Subscription{
		ID: "sub-new", Email: "a@x.com", PublisherID: "pub-1", Topic: model.TopicSoftwareEngineering,
		FrequencyInDays: 3, JoinedTime: testNow, Active: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created {
		t.Error("expected created = false")
	}
	if sub.ID != "sub-old" || sub.Active {
		t.Errorf("expected existing inactive row, got %+v", sub)
	}
	assertExpectations(t, mock)
}

func TestPostgresSubscriptionRepo_Reactivate_UsesGreatest(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSubscriptionRepo(db)

	mock.ExpectExec(`(?s)SET active = true,.*GREATEST\(COALESCE\(last_notified_at, \$2\), \$2\)`).
		WithArgs("sub-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Reactivate(context.Background(), "sub-1", testNow)
	if err != nil {
		t.Fatalf("Reactivate() error = %v", err)
	}
	if !ok {
		t.Error("expected ok = true")
	}
	assertExpectations(t, mock)
}

func TestPostgresSubscriptionRepo_AdvanceWatermark_ForwardOnly(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSubscriptionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("(last_notified_at IS NULL OR last_notified_at < $2)")).
		WithArgs(sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.AdvanceWatermark(context.Background(), []string{"sub-1", "sub-2"}, testNow)
	if err != nil {
		t.Fatalf("AdvanceWatermark() error = %v", err)
	}
	if n != 2 {
		t.Errorf("affected = %d, want 2", n)
	}
	assertExpectations(t, mock)
}

func TestPostgresSubscriptionRepo_AdvanceWatermark_EmptyIsNoop(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSubscriptionRepo(db)

	n, err := repo.AdvanceWatermark(context.Background(), nil, testNow)
	if err != nil || n != 0 {
		t.Errorf("AdvanceWatermark(nil) = (%d, %v), want (0, nil)", n, err)
	}
	assertExpectations(t, mock)
}

// --- Notification ---

func TestPostgresNotificationRepo_InsertIfNoPending(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "配信待ちが無ければ挿入される", affected: 1, want: true},
		{name: "配信待ちが既にあれば挿入されない", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewPostgresNotificationRepo(db)

			mock.ExpectExec(`(?s)INSERT INTO notifications.*WHERE NOT EXISTS`).
				WithArgs("n-1", "sub-1", "a@x.com", "aws, Software Engineering", "u1", "Title", testNow, testNow).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.InsertIfNoPending(context.Background(), &model.Notification{
				ID: "n-1", SubscriptionID: "sub-1", Email: "a@x.com",
				Heading: "aws, Software Engineering", PostURL: "u1", PostTitle: "Title",
				MaturityDate: testNow, CreatedAt: testNow,
			})
			if err != nil {
				t.Fatalf("InsertIfNoPending() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("InsertIfNoPending() = %v, want %v", got, tt.want)
			}
			assertExpectations(t, mock)
		})
	}
}

func TestPostgresNotificationRepo_ListMature(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresNotificationRepo(db)

	mock.ExpectQuery(`(?s)WHERE n.deleted = false.*n.maturity_date <= \$1.*ORDER BY n.seq ASC`).
		WithArgs(testNow).
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow("n-1", "sub-1", "a@x.com", "aws, Software Engineering", "u1", "T1", testNow, false, testNow, nil).
			AddRow("n-2", nil, "b@x.com", "aws, Data Science", "u2", "T2", testNow, false, testNow, nil))

	ns, err := repo.ListMature(context.Background(), testNow)
	if err != nil {
		t.Fatalf("ListMature() error = %v", err)
	}
	if len(ns) != 2 {
		t.Fatalf("len = %d, want 2", len(ns))
	}
	if ns[0].SubscriptionID != "sub-1" || ns[1].SubscriptionID != "" {
		t.Errorf("subscription ids = %q, %q", ns[0].SubscriptionID, ns[1].SubscriptionID)
	}
	assertExpectations(t, mock)
}

func TestPostgresNotificationRepo_MarkDelivered(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresNotificationRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("SET deleted = true, delivered_at = $2")).
		WithArgs(sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkDelivered(context.Background(), []string{"n-1", "n-2", "n-3"}, testNow)
	if err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	if n != 3 {
		t.Errorf("affected = %d, want 3", n)
	}
	assertExpectations(t, mock)
}

// --- Store ---

func TestPostgresStore_InTx_CommitsOnSuccess(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE publishers SET last_scraped_at = $2 WHERE id = $1")).
		WithArgs("pub-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(r Repos) error {
		return r.Publishers.UpdateLastScrapedAt(context.Background(), "pub-1", testNow)
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}
	assertExpectations(t, mock)
}

func TestPostgresStore_InTx_RollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(r Repos) error {
		_, err := r.Notifications.InsertIfNoPending(context.Background(), &model.Notification{ID: "n-1"})
		return err
	})
	if err == nil {
		t.Fatal("expected error from InTx")
	}
	assertExpectations(t, mock)
}

func TestPostgresStore_InTx_BeginFailure(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(db)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := store.InTx(context.Background(), func(r Repos) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error when BeginTx fails")
	}
	if called {
		t.Error("fn should not be called when BeginTx fails")
	}
	assertExpectations(t, mock)
}
