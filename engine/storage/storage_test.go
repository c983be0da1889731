package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
)

func openTest(t *testing.T) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddChannel_IdempotentOnHandle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	id1, err := s.AddChannel(ctx, "@news", "News")
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	id2, err := s.AddChannel(ctx, "news", "News Again")
	if err != nil {
		t.Fatalf("add channel again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id, got %d and %d", id1, id2)
	}

	gotID, ok, err := s.GetChannelID(ctx, "@news")
	if err != nil || !ok || gotID != id1 {
		t.Fatalf("get channel id: id=%d ok=%v err=%v", gotID, ok, err)
	}
}

func TestGetChannelID_Unknown(t *testing.T) {
	s := openTest(t)
	_, ok, err := s.GetChannelID(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown handle")
	}
}

func TestSaveRawMessage_DuplicateExternalID(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	chID, err := s.AddChannel(ctx, "chan", "Chan")
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}

	id1, ok1, err := s.SaveRawMessage(ctx, chID, "ext-1", "hello world", time.Now().UTC(), false)
	if err != nil || !ok1 || id1 == 0 {
		t.Fatalf("save raw message: id=%d ok=%v err=%v", id1, ok1, err)
	}

	id2, ok2, err := s.SaveRawMessage(ctx, chID, "ext-1", "hello world", time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("save duplicate: %v", err)
	}
	if ok2 {
		t.Fatalf("expected duplicate to be rejected, got id=%d", id2)
	}
}

func TestGetUnprocessed_OrderedDescending(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	chID, _ := s.AddChannel(ctx, "chan", "Chan")

	base := time.Now().UTC().Add(-time.Hour)
	for i, offset := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute} {
		_, ok, err := s.SaveRawMessage(ctx, chID, externalID(i), "text", base.Add(offset), false)
		if err != nil || !ok {
			t.Fatalf("save message %d: ok=%v err=%v", i, ok, err)
		}
	}

	got, err := s.GetUnprocessed(ctx, 24)
	if err != nil {
		t.Fatalf("get unprocessed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i := 0; i < len(got)-1; i++ {
		if got[i].OccurredAt.Before(got[i+1].OccurredAt) {
			t.Fatalf("expected descending order, got %v before %v", got[i].OccurredAt, got[i+1].OccurredAt)
		}
	}
	if got[0].ChannelHandle != "chan" {
		t.Fatalf("expected joined channel handle, got %q", got[0].ChannelHandle)
	}
}

func externalID(i int) string {
	return "ext-" + string(rune('a'+i))
}

func TestMarkProcessedBatch_AllReferencedMarked(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	chID, _ := s.AddChannel(ctx, "chan", "Chan")

	var ids []int64
	for i := 0; i < 3; i++ {
		id, ok, err := s.SaveRawMessage(ctx, chID, externalID(i), "text", time.Now().UTC(), false)
		if err != nil || !ok {
			t.Fatalf("save message: ok=%v err=%v", ok, err)
		}
		ids = append(ids, id)
	}

	score := 7
	reason := domain.RejectedByLLM
	updates := []ProcessedUpdate{
		{MessageID: ids[0], IsDuplicate: false, LLMScore: &score},
		{MessageID: ids[1], IsDuplicate: true},
		{MessageID: ids[2], RejectionReason: &reason},
	}
	if err := s.MarkProcessedBatch(ctx, updates); err != nil {
		t.Fatalf("mark processed batch: %v", err)
	}

	unprocessed, err := s.GetUnprocessed(ctx, 24)
	if err != nil {
		t.Fatalf("get unprocessed: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Fatalf("expected all messages processed, got %d remaining", len(unprocessed))
	}
}

func TestSavePublished_RoundTripsEmbedding(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	chID, _ := s.AddChannel(ctx, "chan", "Chan")
	msgID, _, _ := s.SaveRawMessage(ctx, chID, "ext", "text", time.Now().UTC(), false)

	vec := []float32{0.1, -0.2, 0.3, 0.4}
	pubID, err := s.SavePublished(ctx, "digest text", vec, &msgID, chID)
	if err != nil {
		t.Fatalf("save published: %v", err)
	}

	got, err := s.GetPublishedEmbeddings(ctx, 0)
	if err != nil {
		t.Fatalf("get published embeddings: %v", err)
	}
	if len(got) != 1 || got[0].ID != pubID {
		t.Fatalf("unexpected result: %+v", got)
	}
	for i, v := range vec {
		if got[0].Embedding[i] != v {
			t.Fatalf("embedding mismatch at %d: want %v got %v", i, v, got[0].Embedding[i])
		}
	}
}

func TestCleanup_RemovesOldRows(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	chID, _ := s.AddChannel(ctx, "chan", "Chan")

	old := time.Now().UTC().AddDate(0, 0, -30)
	_, ok, err := s.SaveRawMessage(ctx, chID, "old", "text", old, false)
	if err != nil || !ok {
		t.Fatalf("save old message: ok=%v err=%v", ok, err)
	}
	_, ok, err = s.SaveRawMessage(ctx, chID, "recent", "text", time.Now().UTC(), false)
	if err != nil || !ok {
		t.Fatalf("save recent message: ok=%v err=%v", ok, err)
	}

	result, err := s.Cleanup(ctx, 14, 60)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if result.RawRemoved != 1 {
		t.Fatalf("expected 1 raw message removed, got %d", result.RawRemoved)
	}
}

func TestGetStats_CountsMatch(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	chID, _ := s.AddChannel(ctx, "chan", "Chan")
	_, _, err := s.SaveRawMessage(ctx, chID, "ext", "text", time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("save message: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.ActiveChannels != 1 || stats.TotalMessages != 1 || stats.UnprocessedMessages != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGetTodayStats_UsesConfiguredTimezone(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	chID, _ := s.AddChannel(ctx, "chan", "Chan")
	_, _, err := s.SaveRawMessage(ctx, chID, "ext", "text", time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("save message: %v", err)
	}

	loc, err := time.LoadLocation("UTC")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	stats, err := s.GetTodayStats(ctx, loc)
	if err != nil {
		t.Fatalf("get today stats: %v", err)
	}
	if stats.MessagesToday != 1 {
		t.Fatalf("expected 1 message today, got %d", stats.MessagesToday)
	}
}

func TestPool_ReflectsOpenConnections(t *testing.T) {
	s := openTest(t)
	p := s.Pool()
	if p.TotalConnections < 1 {
		t.Fatalf("expected at least 1 open connection, got %d", p.TotalConnections)
	}
}
