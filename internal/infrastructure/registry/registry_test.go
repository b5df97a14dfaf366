package registry

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/eventbus"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// fakeRepo is a minimal in-memory repository.EndpointRepository used only
// to exercise the registry's uniqueness/CRUD semantics without a database.
type fakeRepo struct {
	byID map[string]*entity.Endpoint
}

func newFakeRepo() *fakeRepo { return &fakeRepo{byID: make(map[string]*entity.Endpoint)} }

func (f *fakeRepo) Create(_ context.Context, e *entity.Endpoint) error {
	f.byID[e.ID] = e
	return nil
}
func (f *fakeRepo) Get(_ context.Context, id string) (*entity.Endpoint, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("not found")
	}
	return e, nil
}
func (f *fakeRepo) GetByName(_ context.Context, name string) (*entity.Endpoint, error) {
	for _, e := range f.byID {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, apperr.NotFound("not found")
}
func (f *fakeRepo) List(_ context.Context, _ repository.EndpointFilter) ([]*entity.Endpoint, error) {
	out := make([]*entity.Endpoint, 0, len(f.byID))
	for _, e := range f.byID {
		out = append(out, e)
	}
	return out, nil
}
func (f *fakeRepo) Update(_ context.Context, e *entity.Endpoint) error {
	f.byID[e.ID] = e
	return nil
}
func (f *fakeRepo) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}
func (f *fakeRepo) UpsertModels(context.Context, string, []*entity.EndpointModel) error { return nil }
func (f *fakeRepo) ModelsForEndpoint(context.Context, string) ([]*entity.EndpointModel, error) {
	return nil, nil
}
func (f *fakeRepo) EndpointsForModel(context.Context, string) ([]string, error) { return nil, nil }

func newTestRegistry() *Registry {
	return New(newFakeRepo(), eventbus.New(zap.NewNop()), zap.NewNop())
}

func TestCreateRejectsDuplicateNameCaseSensitively(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	if _, err := reg.Create(ctx, "N1", "http://stub", "", nil, nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := reg.Create(ctx, "n1", "http://stub2", "", nil, nil); err != nil {
		t.Fatalf("differently-cased name should not collide: %v", err)
	}
	if _, err := reg.Create(ctx, "N1", "http://stub3", "", nil, nil); err == nil {
		t.Fatal("expected a Conflict error for a duplicate exact name")
	} else if appErr, ok := apperr.As(err); !ok || appErr.Code != apperr.CodeConflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	created, err := reg.Create(ctx, "N1", "http://stub", "secret", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := reg.Get(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != created.Name || got.BaseURL != created.BaseURL {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, created)
	}
	if got.Redacted().APIKey != "" {
		t.Fatal("api_key must never appear in a redacted endpoint")
	}
}

func TestDeleteThenRecreateSameNameSucceeds(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	e, err := reg.Create(ctx, "N1", "http://stub", "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Delete(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Create(ctx, "N1", "http://stub", "", nil, nil); err != nil {
		t.Fatalf("name should be reusable after deletion: %v", err)
	}
}

func TestUpdateRenameIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	e, err := reg.Create(ctx, "N1", "http://stub", "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rename := func() (*entity.Endpoint, error) {
		return reg.Update(ctx, e.ID, func(target *entity.Endpoint) error {
			target.Name = "N2"
			return nil
		})
	}

	first, err := rename()
	if err != nil {
		t.Fatalf("first rename: %v", err)
	}
	second, err := rename()
	if err != nil {
		t.Fatalf("second rename: %v", err)
	}
	if first.Name != second.Name {
		t.Fatalf("rename should be idempotent: %q vs %q", first.Name, second.Name)
	}
}

func TestGetUnknownIDReturnsNotFound(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.Get("nope"); err == nil {
		t.Fatal("expected NotFound")
	} else if appErr, ok := apperr.As(err); !ok || appErr.Code != apperr.CodeNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdateRenameToTakenNameConflicts(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	if _, err := reg.Create(ctx, "N1", "http://stub", "", nil, nil); err != nil {
		t.Fatalf("create N1: %v", err)
	}
	e2, err := reg.Create(ctx, "N2", "http://stub2", "", nil, nil)
	if err != nil {
		t.Fatalf("create N2: %v", err)
	}

	_, err = reg.Update(ctx, e2.ID, func(target *entity.Endpoint) error {
		target.Name = "N1"
		return nil
	})
	if !apperr.IsConflict(err) {
		t.Fatalf("expected Conflict for a rename onto a taken name, got %v", err)
	}

	// The failed rename must not have touched the cached endpoint.
	got, _ := reg.Get(e2.ID)
	if got.Name != "N2" {
		t.Fatalf("failed rename mutated the cache: %s", got.Name)
	}
}

func TestGetHandsOutIndependentCopies(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	e, err := reg.Create(ctx, "N1", "http://stub", "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := reg.Get(e.ID)
	first.Name = "mutated-by-caller"

	second, _ := reg.Get(e.ID)
	if second.Name != "N1" {
		t.Fatal("registry handed out a shared mutable reference")
	}
}
