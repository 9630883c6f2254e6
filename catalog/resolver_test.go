package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func seedStore(t *testing.T) *InMemoryStore {
	t.Helper()
	store := NewInMemoryStore()

	components := []*Component{
		{ID: "hinge", Name: "Topfscharnier", Category: CategoryFittings, Trades: []string{"tischler"}, Unit: "Stück", UnitPrice: decimal.NewFromFloat(3.50), Active: true},
		{ID: "edge-band", Name: "Kantenumleimer", Category: CategoryEdging, Trades: []string{"tischler"}, Unit: "m", UnitPrice: decimal.NewFromFloat(1.20), Active: true},
	}
	for _, c := range components {
		if err := store.AddComponent(c); err != nil {
			t.Fatalf("AddComponent(%s) failed: %v", c.ID, err)
		}
	}

	override := decimal.NewFromFloat(2.90)
	catalogs := []*Catalog{
		{ID: "explicit", Name: "Sonderkatalog", Trade: "tischler", Entries: []Entry{{ComponentID: "hinge", PriceOverride: &override}}},
		{ID: "org-default", Name: "Betriebskatalog", Trade: "tischler", OrganizationID: "org-1", Default: true, Entries: []Entry{{ComponentID: "hinge"}}},
		{ID: "global-default", Name: "Standardkatalog", Trade: "tischler", Default: true, Entries: []Entry{{ComponentID: "hinge"}, {ComponentID: "edge-band"}}},
	}
	for _, c := range catalogs {
		if err := store.AddCatalog(c); err != nil {
			t.Fatalf("AddCatalog(%s) failed: %v", c.ID, err)
		}
	}

	return store
}

func TestResolvePriorityOrder(t *testing.T) {
	store := seedStore(t)
	resolver := NewResolver(store, NewInMemorySnapshotCache())

	// All three candidates present: the explicit ID wins.
	snap, err := resolver.Resolve("explicit", "org-1", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if snap.CatalogID != "explicit" {
		t.Errorf("resolved %s, want explicit", snap.CatalogID)
	}

	// Without an explicit ID the organization default wins.
	snap, err = resolver.Resolve("", "org-1", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if snap.CatalogID != "org-default" {
		t.Errorf("resolved %s, want org-default", snap.CatalogID)
	}

	// Without an organization the global default remains.
	snap, err = resolver.Resolve("", "", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if snap.CatalogID != "global-default" {
		t.Errorf("resolved %s, want global-default", snap.CatalogID)
	}
}

func TestResolveNoCatalogIsHardStop(t *testing.T) {
	resolver := NewResolver(NewInMemoryStore(), NewInMemorySnapshotCache())

	_, err := resolver.Resolve("", "org-1", "zimmerer")
	var noCat *NoCatalogError
	if !errors.As(err, &noCat) {
		t.Fatalf("expected NoCatalogError, got %v", err)
	}
	if noCat.Trade != "zimmerer" {
		t.Errorf("Trade = %q, want zimmerer", noCat.Trade)
	}
}

func TestResolveUnknownExplicitIDFallsThrough(t *testing.T) {
	store := seedStore(t)
	resolver := NewResolver(store, NewInMemorySnapshotCache())

	snap, err := resolver.Resolve("does-not-exist", "org-1", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if snap.CatalogID != "org-default" {
		t.Errorf("resolved %s, want org-default", snap.CatalogID)
	}
}

func TestResolveExplicitIDForWrongTradeFallsThrough(t *testing.T) {
	store := seedStore(t)
	if err := store.AddCatalog(&Catalog{ID: "wrong-trade", Trade: "zimmerer"}); err != nil {
		t.Fatalf("AddCatalog() failed: %v", err)
	}
	resolver := NewResolver(store, NewInMemorySnapshotCache())

	snap, err := resolver.Resolve("wrong-trade", "org-1", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if snap.CatalogID != "org-default" {
		t.Errorf("resolved %s, want org-default", snap.CatalogID)
	}
}

func TestSnapshotUsesPriceOverride(t *testing.T) {
	store := seedStore(t)
	resolver := NewResolver(store, NewInMemorySnapshotCache())

	snap, err := resolver.Resolve("explicit", "", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	entry, ok := snap.Entry("hinge")
	if !ok {
		t.Fatal("snapshot should contain hinge")
	}
	if !entry.UnitPrice.Equal(decimal.NewFromFloat(2.90)) {
		t.Errorf("UnitPrice = %s, want catalog override 2.90", entry.UnitPrice)
	}

	// The org default carries no override, so the component price applies.
	snap, err = resolver.Resolve("", "org-1", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	entry, ok = snap.Entry("hinge")
	if !ok {
		t.Fatal("snapshot should contain hinge")
	}
	if !entry.UnitPrice.Equal(decimal.NewFromFloat(3.50)) {
		t.Errorf("UnitPrice = %s, want component default 3.50", entry.UnitPrice)
	}
}

func TestSnapshotIsolatedFromLaterEdits(t *testing.T) {
	store := seedStore(t)
	cache := NewInMemorySnapshotCache()
	resolver := NewResolver(store, cache)

	before, err := resolver.Resolve("", "", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	// Admin edits the component price but does not evict the key yet: the
	// cached snapshot keeps serving the old price.
	component, err := store.GetComponent("hinge")
	if err != nil {
		t.Fatalf("GetComponent() failed: %v", err)
	}
	updated := *component
	updated.UnitPrice = decimal.NewFromFloat(9.99)
	if err := store.UpdateComponent(&updated); err != nil {
		t.Fatalf("UpdateComponent() failed: %v", err)
	}

	stale, err := resolver.Resolve("", "", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	entry, _ := stale.Entry("hinge")
	if !entry.UnitPrice.Equal(decimal.NewFromFloat(3.50)) {
		t.Errorf("cached snapshot price = %s, want 3.50", entry.UnitPrice)
	}

	// After eviction the next resolve sees the write.
	resolver.Invalidate(before.CatalogID)
	fresh, err := resolver.Resolve("", "", "tischler")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	entry, _ = fresh.Entry("hinge")
	if !entry.UnitPrice.Equal(decimal.NewFromFloat(9.99)) {
		t.Errorf("fresh snapshot price = %s, want 9.99", entry.UnitPrice)
	}
}

func TestVersionChainAndRollback(t *testing.T) {
	store := seedStore(t)

	v1, err := store.GetCatalog("global-default")
	if err != nil {
		t.Fatalf("GetCatalog() failed: %v", err)
	}

	v2 := v1.NewVersion("global-v2")
	if err := store.AddCatalog(v2); err != nil {
		t.Fatalf("AddCatalog(v2) failed: %v", err)
	}
	v3 := v2.NewVersion("global-v3")
	if err := store.AddCatalog(v3); err != nil {
		t.Fatalf("AddCatalog(v3) failed: %v", err)
	}

	chain, err := VersionChain(store, "global-v3")
	if err != nil {
		t.Fatalf("VersionChain() failed: %v", err)
	}
	want := []string{"global-v3", "global-v2", "global-default"}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(want))
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %s, want %s", i, chain[i], want[i])
		}
	}

	// Promote v3, then roll back to v1 by repointing the default flag.
	if err := store.SetDefault("global-v3"); err != nil {
		t.Fatalf("SetDefault(v3) failed: %v", err)
	}
	got, err := store.GlobalDefault("tischler")
	if err != nil {
		t.Fatalf("GlobalDefault() failed: %v", err)
	}
	if got.ID != "global-v3" {
		t.Errorf("default = %s, want global-v3", got.ID)
	}

	if err := store.SetDefault("global-default"); err != nil {
		t.Fatalf("SetDefault(v1) failed: %v", err)
	}
	got, err = store.GlobalDefault("tischler")
	if err != nil {
		t.Fatalf("GlobalDefault() failed: %v", err)
	}
	if got.ID != "global-default" {
		t.Errorf("default after rollback = %s, want global-default", got.ID)
	}
}

func TestComponentAvailability(t *testing.T) {
	now := time.Now()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	testCases := []struct {
		name      string
		component Component
		want      bool
	}{
		{"active without window", Component{Active: true}, true},
		{"inactive", Component{Active: false}, false},
		{"inside window", Component{Active: true, ValidFrom: &past, ValidTo: &future}, true},
		{"not yet valid", Component{Active: true, ValidFrom: &future}, false},
		{"expired", Component{Active: true, ValidTo: &past}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.component.AvailableAt(now); got != tc.want {
				t.Errorf("AvailableAt() = %v, want %v", got, tc.want)
			}
		})
	}
}
