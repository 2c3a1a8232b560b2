package partition

import (
	"context"
	"net/http"
	"testing"

	"github.com/Sternrassler/wdqs-harvester/internal/testutil"
	"github.com/Sternrassler/wdqs-harvester/pkg/client"
)

func newTestClient(t *testing.T, mock *testutil.MockWDQS) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig(mock.URL(), "TestHarvester/1.0")
	cfg.MaxAttempts = 1
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func TestEnumerator_Enumerate(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.Enqueue(testutil.NewBindingsResponse([]testutil.Row{
		{"occ": "http://www.wikidata.org/entity/Q2", "lblEN": "chemist"},
		{"occ": "http://www.wikidata.org/entity/Q1", "lblEN": "physicist"},
		{"occ": "http://www.wikidata.org/entity/Q1", "lblEN": "physicist"},
		{"lblEN": "no id"},
	}))

	e := NewEnumerator(newTestClient(t, mock), EnumeratorConfig{})
	parts, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	want := []Partition{{"Q1", "physicist"}, {"Q2", "chemist"}}
	if len(parts) != len(want) {
		t.Fatalf("Enumerate() = %v, want %v", parts, want)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("partition[%d] = %+v, want %+v", i, parts[i], want[i])
		}
	}

	reqs := mock.Requests()
	if len(reqs) != 1 || reqs[0].Limit != -1 {
		t.Errorf("enumeration should be a single unpaged query, got %+v", reqs)
	}
}

func TestEnumerator_Failure(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.Enqueue(testutil.NewErrorResponse(http.StatusForbidden))

	e := NewEnumerator(newTestClient(t, mock), EnumeratorConfig{})
	if _, err := e.Enumerate(context.Background()); err == nil {
		t.Error("Enumerate() should fail on 403")
	}
}
