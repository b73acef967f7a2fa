package service

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestListOptions_Sanitize(t *testing.T) {
	tests := []struct {
		name     string
		in       ListOptions
		wantTake int
		wantSkip int
	}{
		{"defaults", ListOptions{}, 500, 0},
		{"explicit take", ListOptions{Take: 50}, 50, 0},
		{"ceiling", ListOptions{Take: 100000}, 5000, 0},
		{"negative take", ListOptions{Take: -1}, 500, 0},
		{"negative skip", ListOptions{Skip: -5}, 500, 0},
		{"valid skip", ListOptions{Skip: 20, Take: 10}, 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.sanitize()
			if tt.in.Take != tt.wantTake {
				t.Errorf("Take = %d, want %d", tt.in.Take, tt.wantTake)
			}
			if tt.in.Skip != tt.wantSkip {
				t.Errorf("Skip = %d, want %d", tt.in.Skip, tt.wantSkip)
			}
		})
	}
}

func TestNewListOptions_Defaults(t *testing.T) {
	opts := NewListOptions()
	if opts.Take != 500 {
		t.Errorf("Take = %d, want 500", opts.Take)
	}
	if !opts.Reverse {
		t.Error("Reverse = false, want true by default")
	}
}

func TestListOptions_Order(t *testing.T) {
	opts := ListOptions{Reverse: true}
	if got := opts.order("posted"); got != "posted desc, id desc" {
		t.Errorf("order(reverse) = %q", got)
	}
	opts.Reverse = false
	if got := opts.order("posted"); got != "posted asc, id asc" {
		t.Errorf("order(forward) = %q", got)
	}
	// Room listing shares the helper for its own time column.
	if got := opts.order("last_active"); got != "last_active asc, id asc" {
		t.Errorf("order(last_active) = %q", got)
	}
}

func TestDomainErr(t *testing.T) {
	if !domainErr(ErrRoomArchived) {
		t.Error("domainErr(ErrRoomArchived) = false")
	}
	if domainErr(ErrTransactionAborted) {
		t.Error("domainErr(ErrTransactionAborted) = true, want false")
	}
}

func TestMapDuplicate(t *testing.T) {
	// A unique-index loser becomes the given business error.
	if got := mapDuplicate(gorm.ErrDuplicatedKey, ErrDuplicateUsername); !errors.Is(got, ErrDuplicateUsername) {
		t.Errorf("mapDuplicate(duplicated key) = %v, want ErrDuplicateUsername", got)
	}
	slug := fmt.Errorf("%w: slug taken", ErrValidationFailed)
	if got := mapDuplicate(gorm.ErrDuplicatedKey, slug); !errors.Is(got, ErrValidationFailed) {
		t.Errorf("mapDuplicate(duplicated key) = %v, want ErrValidationFailed", got)
	}
	// Everything else passes through untouched.
	other := errors.New("connection reset")
	if got := mapDuplicate(other, ErrDuplicateUsername); got != other {
		t.Errorf("mapDuplicate(other) = %v, want passthrough", got)
	}
	if got := mapDuplicate(nil, ErrDuplicateUsername); got != nil {
		t.Errorf("mapDuplicate(nil) = %v, want nil", got)
	}
}

func TestWrapStoreErr_KeepsMappedDuplicate(t *testing.T) {
	// Once mapped, the duplicate must survive wrapStoreErr as a business
	// error instead of degrading to a transaction abort.
	err := wrapStoreErr(mapDuplicate(gorm.ErrDuplicatedKey, ErrDuplicateUsername))
	if !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("wrapStoreErr() = %v, want ErrDuplicateUsername", err)
	}
	if errors.Is(err, ErrTransactionAborted) {
		t.Error("wrapStoreErr() degraded a mapped duplicate to ErrTransactionAborted")
	}
}
