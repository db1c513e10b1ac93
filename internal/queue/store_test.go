package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"mail-messenger/internal/config"
)

func newTestStore(t *testing.T, dryRun bool) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	database := sqlx.NewDb(mockDB, "postgres")
	store := NewStore(database, zap.NewNop(), "host-1-report-j1", config.ModeReport, dryRun)
	return store, mock
}

func claimedColumns() []string {
	return []string{"ID", "DestinationAddress", "SourceAddress", "CC_Address", "BCC_Address",
		"Subject", "Body", "Attachment", "attempts", "processed_by"}
}

func TestSelectCandidates(t *testing.T) {
	store, mock := newTestStore(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "ID", processed_by`).
		WithArgs("host-1-report-j1").
		WillReturnRows(sqlmock.NewRows([]string{"ID", "processed_by"}).
			AddRow(int64(1), nil).
			AddRow(int64(2), "other-worker"))
	mock.ExpectCommit()

	candidates, err := store.SelectCandidates(context.Background())
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ID != 1 || candidates[0].ProcessedBy != nil {
		t.Errorf("unexpected first candidate: %+v", candidates[0])
	}
	if candidates[1].ProcessedBy == nil || *candidates[1].ProcessedBy != "other-worker" {
		t.Errorf("unexpected second candidate: %+v", candidates[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestClaimOneNewRow(t *testing.T) {
	store, mock := newTestStore(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	mock.ExpectQuery(`UPDATE mail\."MailQueue"[\s\S]*processed_by IS NULL`).
		WithArgs("host-1-report-j1", int64(1)).
		WillReturnRows(sqlmock.NewRows(claimedColumns()).
			AddRow(int64(1), "alice@example.com", "noreply@example.com", nil, nil,
				"Hi", "hello", []byte("csv"), 1, "host-1-report-j1"))
	mock.ExpectCommit()

	msg, err := store.ClaimOne(context.Background(), Candidate{ID: 1})
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if msg.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", msg.Attempts)
	}
	if msg.ProcessedBy == nil || *msg.ProcessedBy != "host-1-report-j1" {
		t.Errorf("processed_by = %v, want own identity", msg.ProcessedBy)
	}
	if !msg.IsReport() {
		t.Error("row with attachment should classify as report")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestClaimOnePriorOwnerCAS(t *testing.T) {
	store, mock := newTestStore(t, false)
	prior := "dead-worker"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	// The CAS must compare against the owner read at selection time.
	mock.ExpectQuery(`UPDATE mail\."MailQueue"[\s\S]*processed_by = \$3`).
		WithArgs("host-1-report-j1", int64(9), "dead-worker").
		WillReturnRows(sqlmock.NewRows(claimedColumns()).
			AddRow(int64(9), "bob@x.com", nil, nil, nil, "s", "b", nil, 2, "host-1-report-j1"))
	mock.ExpectCommit()

	msg, err := store.ClaimOne(context.Background(), Candidate{ID: 9, ProcessedBy: &prior})
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if msg.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", msg.Attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestClaimOneLockBusy(t *testing.T) {
	store, mock := newTestStore(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
	mock.ExpectRollback()

	_, err := store.ClaimOne(context.Background(), Candidate{ID: 3})
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("err = %v, want ErrLockBusy", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestClaimOneStolen(t *testing.T) {
	store, mock := newTestStore(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	mock.ExpectQuery(`UPDATE mail\."MailQueue"`).
		WithArgs("host-1-report-j1", int64(4)).
		WillReturnRows(sqlmock.NewRows(claimedColumns())) // zero rows: CAS lost
	mock.ExpectRollback()

	_, err := store.ClaimOne(context.Background(), Candidate{ID: 4})
	if !errors.Is(err, ErrClaimLost) {
		t.Fatalf("err = %v, want ErrClaimLost", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestClaimOneDryRunRollsBack(t *testing.T) {
	store, mock := newTestStore(t, true)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(true))
	mock.ExpectQuery(`UPDATE mail\."MailQueue"`).
		WithArgs("host-1-report-j1", int64(5)).
		WillReturnRows(sqlmock.NewRows(claimedColumns()).
			AddRow(int64(5), "bob@x.com", nil, nil, nil, "s", "b", []byte("x"), 1, "host-1-report-j1"))
	mock.ExpectRollback()

	msg, err := store.ClaimOne(context.Background(), Candidate{ID: 5})
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if msg == nil || msg.ID != 5 {
		t.Error("dry-run claim should still return the in-memory record")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestArchiveSuccess(t *testing.T) {
	store, mock := newTestStore(t, false)
	owner := "host-1-report-j1"

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mail\."MailQueue" WHERE "ID" = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO mail\."MailArchive"`).
		WithArgs("alice@example.com", nil, nil, nil, "Hi", "hello", owner).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	msg := &Message{
		ID:                 1,
		DestinationAddress: "alice@example.com",
		Subject:            "Hi",
		Body:               "hello",
		Attachment:         []byte("never archived"),
		ProcessedBy:        &owner,
	}
	if err := store.Archive(context.Background(), msg, true); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestArchiveFailureGoesToFailedMail(t *testing.T) {
	store, mock := newTestStore(t, false)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mail\."MailQueue"`).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO mail\."FailedMail"`).
		WithArgs("bogus", nil, nil, nil, "s", "b", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	msg := &Message{ID: 4, DestinationAddress: "bogus", Subject: "s", Body: "b"}
	if err := store.Archive(context.Background(), msg, false); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestArchiveDryRunRollsBack(t *testing.T) {
	store, mock := newTestStore(t, true)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mail\."MailQueue"`).
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO mail\."MailArchive"`).
		WithArgs("carol@x.com", nil, nil, nil, "s", "b", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	msg := &Message{ID: 6, DestinationAddress: "carol@x.com", Subject: "s", Body: "b"}
	if err := store.Archive(context.Background(), msg, true); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestModeConstraintInterpolation(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer mockDB.Close()
	database := sqlx.NewDb(mockDB, "postgres")

	tests := []struct {
		mode config.Mode
		want string
	}{
		{config.ModeReport, `"Attachment" IS NOT NULL`},
		{config.ModeNotification, `"Attachment" IS NULL`},
		{config.ModeAll, "TRUE"},
	}

	for _, tt := range tests {
		store := NewStore(database, zap.NewNop(), "w", tt.mode, false)
		if !strings.Contains(store.selectSQL, tt.want) {
			t.Errorf("mode %q: select SQL missing constraint %q", tt.mode, tt.want)
		}
	}
}
