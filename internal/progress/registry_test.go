package progress

import (
	"fmt"
	"sync"
	"testing"

	"pose-tracker-go/pkg/models"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("v1"); ok {
		t.Fatalf("unknown id reported as present")
	}
	if r.Update("v1", models.StageProcessing, 10, "") {
		t.Fatalf("Update created an entry for an unknown id")
	}

	r.Start("v1")
	p, ok := r.Get("v1")
	if !ok || p.Stage != models.StageQueued || p.Progress != 0 {
		t.Fatalf("after Start: %+v, %v", p, ok)
	}

	if !r.Update("v1", models.StageProcessing, 42.5, "Poses detected: 3/10 (30.0%)") {
		t.Fatalf("Update on registered id returned false")
	}
	p, _ = r.Get("v1")
	if p.Progress != 42.5 || p.Message != "Poses detected: 3/10 (30.0%)" {
		t.Fatalf("entry not overwritten: %+v", p)
	}

	r.Remove("v1")
	if _, ok := r.Get("v1"); ok {
		t.Fatalf("entry survived Remove")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("v%d", i)
		r.Start(id)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for pct := 0; pct <= 100; pct++ {
				r.Update(id, models.StageProcessing, float64(pct), "")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Get(id)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		if p, _ := r.Get(fmt.Sprintf("v%d", i)); p.Progress != 100 {
			t.Fatalf("v%d ended at %v", i, p.Progress)
		}
	}
}
