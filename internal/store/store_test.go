package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestEnsureChatGeneratesID(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO chats").
		WithArgs(sqlmock.AnyArg(), "Where are the risers?").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := st.EnsureChat(context.Background(), "", "Where are the risers?")
	if err != nil {
		t.Fatalf("EnsureChat: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated chat id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveMessageWithImages(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "chat-1", "user", "tool result").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO message_images").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "img_abc", "/tmp/img_abc_full.png", "https://objstore/img_abc", "base").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := st.SaveMessage(context.Background(), MessageRecord{
		ChatID:  "chat-1",
		Role:    "user",
		Content: "tool result",
		Images: []ImageArtifact{
			{ImageID: "img_abc", LocalPath: "/tmp/img_abc_full.png", ObjectURL: "https://objstore/img_abc", Kind: "base"},
		},
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated message id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "created_at"}).
		AddRow("m1", "chat-1", "user", "first", now.Add(-2*time.Minute)).
		AddRow("m2", "chat-1", "assistant", "second", now.Add(-time.Minute))
	mock.ExpectQuery("SELECT id, chat_id, role, content, created_at").
		WithArgs("chat-1", 10).
		WillReturnRows(rows)

	msgs, err := st.RecentMessages(context.Background(), "chat-1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRunWritesUsage(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE runs SET").
		WithArgs("run-1", "done", 4, int64(1200), int64(300), int64(1500), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.FinishRun(context.Background(), RunRecord{
		ID:               "run-1",
		State:            "done",
		Steps:            4,
		PromptTokens:     1200,
		CompletionTokens: 300,
		TotalTokens:      1500,
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRunRequiresID(t *testing.T) {
	st, _ := newMockStore(t)
	if err := st.CreateRun(context.Background(), RunRecord{}); err == nil {
		t.Fatalf("expected error for missing run id")
	}
}
