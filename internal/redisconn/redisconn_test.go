package redisconn

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)

	rdb, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil { t.Fatalf("Open: %v", err) }
	_ = rdb.Close()

	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := Open(context.Background(), "http://nope"); err == nil {
		t.Fatalf("expected error for bad scheme")
	}
}
