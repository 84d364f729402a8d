package undelivered

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, 30*24*time.Hour)
}

func TestStore_SaveRequiresReceiverAndMessageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "", Envelope{MessageID: "m1"}); err != ErrInvalidRecord {
		t.Fatalf("err = %v, want ErrInvalidRecord for empty receiver", err)
	}
	if err := s.Save(ctx, "r1", Envelope{}); err != ErrInvalidRecord {
		t.Fatalf("err = %v, want ErrInvalidRecord for empty messageId", err)
	}
}

func TestStore_SaveFetchDeleteAllRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := Envelope{MessageID: "m1", SenderID: "1", ReceiverID: "2", ActualMessage: "hi", Timestamp: 1000}
	if err := s.Save(ctx, "2", env); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	has, err := s.Has(ctx, "2")
	if err != nil || !has {
		t.Fatalf("Has() = (%v, %v), want (true, nil)", has, err)
	}

	got, err := s.Fetch(ctx, "2")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Fatalf("Fetch() = %+v, want one record m1", got)
	}

	if err := s.DeleteAll(ctx, "2"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}

	got, err = s.Fetch(ctx, "2")
	if err != nil || len(got) != 0 {
		t.Fatalf("Fetch() after DeleteAll = (%v, %v), want empty", got, err)
	}
	has, err = s.Has(ctx, "2")
	if err != nil || has {
		t.Fatalf("Has() after DeleteAll = (%v, %v), want (false, nil)", has, err)
	}
}

func TestStore_FetchSortsByTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, "r1", Envelope{MessageID: "m2", Timestamp: 2000})
	_ = s.Save(ctx, "r1", Envelope{MessageID: "m1", Timestamp: 1000})
	_ = s.Save(ctx, "r1", Envelope{MessageID: "m3", Timestamp: 3000})

	got, err := s.Fetch(ctx, "r1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Fetch() returned %d records, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Timestamp > got[i].Timestamp {
			t.Fatalf("Fetch() not sorted ascending: %+v", got)
		}
	}
}

func TestStore_DeleteOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, "r1", Envelope{MessageID: "m1", Timestamp: 1})
	_ = s.Save(ctx, "r1", Envelope{MessageID: "m2", Timestamp: 2})

	if err := s.DeleteOne(ctx, "r1", "m1"); err != nil {
		t.Fatalf("DeleteOne() error = %v", err)
	}

	got, err := s.Fetch(ctx, "r1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "m2" {
		t.Fatalf("Fetch() after DeleteOne = %+v, want only m2", got)
	}
}

func TestStore_FetchSkipsMalformedRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(rdb, time.Hour)
	ctx := context.Background()

	_ = s.Save(ctx, "r1", Envelope{MessageID: "good", Timestamp: 1})
	rdb.HSet(ctx, Key("r1"), "bad", "{not json")

	got, err := s.Fetch(ctx, "r1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "good" {
		t.Fatalf("Fetch() = %+v, want only the well-formed record", got)
	}
}
