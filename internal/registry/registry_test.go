package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type fakeUsage struct{ types, statuses map[string]bool }

func (f fakeUsage) UsesType(code string) bool   { return f.types[code] }
func (f fakeUsage) UsesStatus(code string) bool { return f.statuses[code] }

func openTest(t *testing.T) *Registry {
	t.Helper()
	r, err := Open("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSeedAndRead(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)
	err := r.Seed(ctx,
		map[string]string{"police": "Police", "air": "Air"},
		map[string]string{"online": "Online"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	types, err := r.TypeNames(ctx)
	if err != nil {
		t.Fatalf("types: %v", err)
	}
	if len(types) != 2 || types["police"] != "Police" {
		t.Fatalf("unexpected types %v", types)
	}
	statuses, _ := r.StatusNames(ctx)
	if len(statuses) != 1 || statuses["online"] != "Online" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
	// reseeding keeps renamed rows
	if err := r.Set(ctx, KindType, "police", "Polizei"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := r.Seed(ctx, map[string]string{"police": "Police"}, nil); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if n, _ := r.Name(ctx, KindType, "police"); n != "Polizei" {
		t.Fatalf("expected rename to survive reseed, got %q", n)
	}
}

func TestListOrdered(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)
	_ = r.Seed(ctx, map[string]string{"c": "C", "a": "A", "b": "B"}, nil)
	rows, err := r.List(ctx, KindType)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 || rows[0].Code != "a" || rows[2].Code != "c" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestDeleteRejectsCodeInUse(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)
	_ = r.Seed(ctx, map[string]string{"police": "Police", "air": "Air"}, map[string]string{"alarm": "Alarm"})
	r.SetUsage(fakeUsage{types: map[string]bool{"police": true}, statuses: map[string]bool{"alarm": true}})

	if err := r.Delete(ctx, KindType, "police"); !errors.Is(err, ErrMappingInUse) {
		t.Fatalf("expected ErrMappingInUse, got %v", err)
	}
	if err := r.Delete(ctx, KindStatus, "alarm"); !errors.Is(err, ErrMappingInUse) {
		t.Fatalf("expected ErrMappingInUse for status, got %v", err)
	}
	if err := r.Delete(ctx, KindType, "air"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	types, _ := r.TypeNames(ctx)
	if _, ok := types["air"]; ok {
		t.Fatalf("air should be gone")
	}
	if _, ok := types["police"]; !ok {
		t.Fatalf("police should remain")
	}
}

func TestDeleteUnknown(t *testing.T) {
	r := openTest(t)
	if err := r.Delete(context.Background(), KindType, "nope"); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode, got %v", err)
	}
	if _, err := r.Name(context.Background(), KindStatus, "nope"); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if _, err := ParseKind("colour"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if k, err := ParseKind("status"); err != nil || k != KindStatus {
		t.Fatalf("unexpected %v %v", k, err)
	}
}

func TestFileBacked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Set(ctx, KindStatus, "standby", "Standby"); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = r.Close()

	r, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()
	if n, err := r.Name(ctx, KindStatus, "standby"); err != nil || n != "Standby" {
		t.Fatalf("expected persisted row, got %q %v", n, err)
	}
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)
	b := openTest(t)
	_ = a.Set(ctx, KindType, "boat", "Boat")
	types, _ := b.TypeNames(ctx)
	if len(types) != 0 {
		t.Fatalf("expected empty registry, got %v", types)
	}
}
