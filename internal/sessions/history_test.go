package sessions

import (
	"errors"
	"testing"

	"github.com/strrl/agentchat/pkg/models"
)

func TestHistoryAppendOnlyForScopedSession(t *testing.T) {
	h := NewHistoryCache()
	msg := models.Message{Role: models.RoleUser, Content: "hi"}

	if err := h.Append("s1", msg); !errors.Is(err, ErrNotActive) {
		t.Fatalf("append to unscoped cache: err = %v, want ErrNotActive", err)
	}

	h.Reset("s1")
	if err := h.Append("s1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Append("s2", msg); !errors.Is(err, ErrNotActive) {
		t.Errorf("append to other session: err = %v, want ErrNotActive", err)
	}
	if h.Len() != 1 {
		t.Errorf("len = %d, want 1", h.Len())
	}
}

func TestHistoryReplaceIsWholesale(t *testing.T) {
	h := NewHistoryCache()
	h.Reset("s1")
	_ = h.Append("s1", models.Message{Role: models.RoleUser, Content: "optimistic"})

	server := []models.Message{
		{Role: models.RoleUser, Content: "normalized"},
		{Role: models.RoleBot, Content: "reply"},
	}
	h.Replace("s1", server)

	got := h.Messages()
	if len(got) != 2 || got[0].Content != "normalized" || got[1].Content != "reply" {
		t.Errorf("messages = %+v, want server history", got)
	}

	server[0].Content = "mutated"
	if h.Messages()[0].Content != "normalized" {
		t.Error("cache should not alias the caller's slice")
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistoryCache()
	h.Replace("s1", []models.Message{{Content: "x"}})
	h.Clear()

	if h.SessionID() != "" || h.Len() != 0 {
		t.Errorf("cleared cache = (%q, %d), want empty", h.SessionID(), h.Len())
	}
}

func TestHistoryGenerationAdvancesOnWrite(t *testing.T) {
	h := NewHistoryCache()
	msg := models.Message{Role: models.RoleUser, Content: "hi"}

	last := h.Generation()
	step := func(name string) {
		t.Helper()
		if g := h.Generation(); g == last {
			t.Errorf("%s did not advance the generation", name)
		} else {
			last = g
		}
	}

	h.Reset("s1")
	step("Reset")
	if err := h.Append("s1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	step("Append")
	h.Replace("s1", []models.Message{msg, msg})
	step("Replace")
	h.Clear()
	step("Clear")

	_ = h.Append("s2", msg)
	if h.Generation() != last {
		t.Error("a rejected append must not advance the generation")
	}
}
