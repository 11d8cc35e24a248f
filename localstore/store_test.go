package localstore

import (
	"bytes"
	"testing"

	syncErrors "github.com/sidelinehq/coachsync/errors"
)

func TestCheckQuota(t *testing.T) {
	limits := Limits{MaxValueBytes: 8, MaxRecordsPerNamespace: 3}

	tests := []struct {
		name     string
		limits   Limits
		isNew    bool
		count    int
		value    []byte
		wantKind syncErrors.Kind
		wantErr  bool
	}{
		{
			name:   "value at limit",
			limits: limits,
			value:  bytes.Repeat([]byte("x"), 8),
		},
		{
			name:     "value over limit",
			limits:   limits,
			value:    bytes.Repeat([]byte("x"), 9),
			wantErr:  true,
			wantKind: syncErrors.KindQuota,
		},
		{
			name:   "new record below count limit",
			limits: limits,
			isNew:  true,
			count:  2,
			value:  []byte("x"),
		},
		{
			name:     "new record at count limit",
			limits:   limits,
			isNew:    true,
			count:    3,
			value:    []byte("x"),
			wantErr:  true,
			wantKind: syncErrors.KindQuota,
		},
		{
			name:   "overwrite ignores count limit",
			limits: limits,
			isNew:  false,
			count:  3,
			value:  []byte("x"),
		},
		{
			name:  "zero limits disable checks",
			isNew: true,
			count: 1 << 20,
			value: bytes.Repeat([]byte("x"), 1<<20),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckQuota(tt.limits, syncErrors.OpPut, "localstore", tt.isNew, tt.count, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !syncErrors.IsKind(err, tt.wantKind) {
					t.Errorf("expected kind %v, got: %v", tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	if err := ValidateKey(syncErrors.OpGet, "localstore", "roster", "player-1"); err != nil {
		t.Errorf("expected valid key to pass, got: %v", err)
	}
	if err := ValidateKey(syncErrors.OpGet, "localstore", "", "player-1"); !syncErrors.IsKind(err, syncErrors.KindValidation) {
		t.Errorf("expected validation error for empty namespace, got: %v", err)
	}
	if err := ValidateKey(syncErrors.OpGet, "localstore", "roster", ""); !syncErrors.IsKind(err, syncErrors.KindValidation) {
		t.Errorf("expected validation error for empty key, got: %v", err)
	}
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.MaxValueBytes != 512*1024 {
		t.Errorf("expected 512KiB value limit, got %d", l.MaxValueBytes)
	}
	if l.MaxRecordsPerNamespace != 10000 {
		t.Errorf("expected 10000 record limit, got %d", l.MaxRecordsPerNamespace)
	}
}
