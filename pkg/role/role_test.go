package role

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDetector_FirstObservationPrimes(t *testing.T) {
	d := NewDetector(func(ctx context.Context) (bool, error) { return false, nil })
	r, changed, err := d.Observe(context.Background())
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if r != Primary {
		t.Fatalf("role = %v, want primary", r)
	}
	if changed {
		t.Fatalf("first observation reported a change")
	}
}

func TestDetector_DetectsFlip(t *testing.T) {
	inRecovery := true
	d := NewDetector(func(ctx context.Context) (bool, error) { return inRecovery, nil })
	ctx := context.Background()

	if r, _, _ := d.Observe(ctx); r != Standby {
		t.Fatalf("initial role = %v, want standby", r)
	}

	inRecovery = false
	r, changed, err := d.Observe(ctx)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !changed || r != Primary {
		t.Fatalf("promotion not detected: role=%v changed=%v", r, changed)
	}

	// steady state: no further change reported
	if _, changed, _ := d.Observe(ctx); changed {
		t.Fatalf("steady state reported a change")
	}
}

func TestDetector_ErrorKeepsCachedRole(t *testing.T) {
	var fail bool
	d := NewDetector(func(ctx context.Context) (bool, error) {
		if fail {
			return false, errors.New("probe down")
		}
		return true, nil
	})
	ctx := context.Background()
	if _, _, err := d.Observe(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	fail = true
	r, changed, err := d.Observe(ctx)
	if err == nil {
		t.Fatalf("expected probe error")
	}
	if changed {
		t.Fatalf("error observation reported a change")
	}
	if r != Standby || d.Last() != Standby {
		t.Fatalf("cached role lost on error: r=%v last=%v", r, d.Last())
	}
}

func TestFileProbe(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "standby.signal")
	probe := FileProbe(marker)
	ctx := context.Background()

	inRecovery, err := probe(ctx)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if inRecovery {
		t.Fatalf("missing marker reported recovery")
	}

	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	inRecovery, err = probe(ctx)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !inRecovery {
		t.Fatalf("marker present but recovery not reported")
	}
}
