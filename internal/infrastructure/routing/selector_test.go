package routing

import (
	"testing"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

func ms(v int64) *int64 { return &v }

func TestSortByLatencyAscendingNullLast(t *testing.T) {
	endpoints := []*entity.Endpoint{
		{ID: "a", LatencyMs: ms(100)},
		{ID: "b", LatencyMs: nil},
		{ID: "c", LatencyMs: ms(10)},
		{ID: "d", LatencyMs: ms(50)},
		{ID: "e", LatencyMs: nil},
	}

	sortByLatencyAscendingNullLast(endpoints)

	want := []string{"c", "d", "a", "b", "e"}
	for i, id := range want {
		if endpoints[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, endpoints[i].ID)
		}
	}
}

func TestSortByLatencyAscendingNullLast_StableAmongEqualLatencies(t *testing.T) {
	endpoints := []*entity.Endpoint{
		{ID: "first", LatencyMs: ms(20)},
		{ID: "second", LatencyMs: ms(20)},
	}

	sortByLatencyAscendingNullLast(endpoints)

	if endpoints[0].ID != "first" || endpoints[1].ID != "second" {
		t.Fatalf("expected stable order first,second; got %s,%s", endpoints[0].ID, endpoints[1].ID)
	}
}
