package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

type fakeProvider struct {
	reply string
	fail  bool
	last  []provider.Message
}

func (f *fakeProvider) Chat(ctx context.Context, model string, messages []provider.Message) (string, provider.Usage, error) {
	f.last = messages
	if f.fail {
		return "", provider.Usage{}, fmt.Errorf("endpoint down")
	}
	return f.reply, provider.Usage{TotalTokens: 10}, nil
}

func TestUpdateStoresSummary(t *testing.T) {
	fp := &fakeProvider{reply: "User asked about the riser; answer cited page 3."}
	m := NewManager(fp, "test-model", nil, 0, nil)

	got, err := m.Update(context.Background(), "chat1", "what is the riser size?", "DN400, see page 3")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got != fp.reply {
		t.Fatalf("summary = %q", got)
	}
	if m.Get(context.Background(), "chat1") != fp.reply {
		t.Fatalf("summary not cached")
	}
}

func TestUpdateFoldsPreviousSummary(t *testing.T) {
	fp := &fakeProvider{reply: "second summary"}
	m := NewManager(fp, "test-model", nil, 0, nil)
	if _, err := m.Update(context.Background(), "chat1", "q1", "a1"); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	fp.reply = "third summary"
	if _, err := m.Update(context.Background(), "chat1", "q2", "a2"); err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	prompt := fp.last[1].Text
	if !strings.Contains(prompt, "second summary") {
		t.Fatalf("prior summary not folded into prompt: %q", prompt)
	}
}

func TestUpdateKeepsPreviousOnFailure(t *testing.T) {
	fp := &fakeProvider{reply: "first"}
	m := NewManager(fp, "test-model", nil, 0, nil)
	if _, err := m.Update(context.Background(), "chat1", "q", "a"); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}
	fp.fail = true
	got, err := m.Update(context.Background(), "chat1", "q2", "a2")
	if err == nil {
		t.Fatalf("expected error")
	}
	if got != "first" {
		t.Fatalf("previous summary lost on failure: %q", got)
	}
}
