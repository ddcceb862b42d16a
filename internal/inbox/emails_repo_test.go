package inbox

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*EmailsRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEmailsRepo(db), mock
}

func refundMessage() Message {
	return Message{MessageID: "<abc@mail>", From: "jane@example.com", Subject: "Refund", Body: "When?"}
}

func TestInsertIfAbsent_New(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO emails")).
		WithArgs("<abc@mail>", "jane@example.com", "Refund", "When?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, created, err := repo.InsertIfAbsent(context.Background(), refundMessage())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent_Duplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO emails")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM emails WHERE msg_id = $1")).
		WithArgs("<abc@mail>").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, created, err := repo.InsertIfAbsent(context.Background(), refundMessage())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsent_RequiresMessageID(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, _, err := repo.InsertIfAbsent(context.Background(), Message{From: "x@y"})
	assert.Error(t, err)
}

func emailRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "msg_id", "from_addr", "subject", "body", "status", "decision", "reason", "created_at", "updated_at"})
}

func TestGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM emails WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(emailRows().AddRow(7, "<abc@mail>", "jane@example.com", "Refund", "When?", "new", nil, nil, now, now))

	e, err := repo.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, e.Status)
	assert.Nil(t, e.Decision)
	assert.Equal(t, "jane@example.com", e.From)

	mock.ExpectQuery(regexp.QuoteMeta("FROM emails WHERE id = $1")).
		WithArgs(int64(8)).
		WillReturnRows(emailRows())
	_, err = repo.Get(context.Background(), 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordDecision(t *testing.T) {
	tests := []struct {
		decision string
		status   Status
	}{
		{"deliver", StatusDelivered},
		{"escalate", StatusEscalated},
	}

	for _, tt := range tests {
		t.Run(tt.decision, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec(regexp.QuoteMeta("UPDATE emails")).
				WithArgs(int64(7), string(tt.status), tt.decision, "because").
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, repo.RecordDecision(context.Background(), 7, tt.decision, "because"))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMarkProcessing_Missing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE emails")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.MarkProcessing(context.Background(), 99), ErrNotFound)
}

func TestListEscalations(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1")).
		WithArgs("escalated", 50).
		WillReturnRows(emailRows().
			AddRow(3, "<c@mail>", "a@b.c", "CVV", "my cvv", "escalated", "escalate", "PII detected", now, now))

	emails, err := repo.ListEscalations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "PII detected", *emails[0].Reason)
}
