package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Op
		component Component
		kind      Kind
		err       error
		want      string
	}{
		{
			name:      "with component and kind",
			op:        OpPut,
			component: "store",
			kind:      KindIO,
			err:       fmt.Errorf("failed to open file"),
			want:      "put operation failed in store component [io_failure]: failed to open file",
		},
		{
			name:      "with component default kind",
			op:        OpPut,
			component: "store",
			err:       fmt.Errorf("failed to open file"),
			want:      "put operation failed in store component [internal]: failed to open file",
		},
		{
			name: "without component with kind",
			op:   OpPush,
			kind: KindNetwork,
			err:  fmt.Errorf("connection refused"),
			want: "push operation failed [network]: connection refused",
		},
		{
			name: "without cause",
			op:   OpDrain,
			kind: KindRejected,
			want: "drain operation failed [rejected]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SyncError{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Kind:      tt.kind,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("SyncError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestE(t *testing.T) {
	cause := fmt.Errorf("disk full")

	tests := []struct {
		name          string
		args          []interface{}
		wantOp        Op
		wantComponent Component
		wantKind      Kind
		wantRetryable bool
	}{
		{
			name:          "op component kind cause",
			args:          []interface{}{OpPut, Component("store"), KindQuota, cause},
			wantOp:        OpPut,
			wantComponent: "store",
			wantKind:      KindQuota,
			wantRetryable: false,
		},
		{
			name:          "network kind defaults retryable",
			args:          []interface{}{OpPush, KindNetwork, cause},
			wantOp:        OpPush,
			wantKind:      KindNetwork,
			wantRetryable: true,
		},
		{
			name:          "retryable forced off",
			args:          []interface{}{OpPush, KindNetwork, cause, false},
			wantOp:        OpPush,
			wantKind:      KindNetwork,
			wantRetryable: false,
		},
		{
			name:          "string becomes cause",
			args:          []interface{}{OpRefresh, KindValidation, "empty id"},
			wantOp:        OpRefresh,
			wantKind:      KindValidation,
			wantRetryable: false,
		},
		{
			name:          "nested sync error keeps kind",
			args:          []interface{}{OpDrain, Component("queue"), NewNetworkError(OpPush, cause)},
			wantOp:        OpDrain,
			wantComponent: "queue",
			wantKind:      KindNetwork,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := E(tt.args...)
			if e.Op != tt.wantOp {
				t.Errorf("E() Op = %v, want %v", e.Op, tt.wantOp)
			}
			if e.Component != tt.wantComponent {
				t.Errorf("E() Component = %v, want %v", e.Component, tt.wantComponent)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("E() Kind = %v, want %v", e.Kind, tt.wantKind)
			}
			if e.Retryable != tt.wantRetryable {
				t.Errorf("E() Retryable = %v, want %v", e.Retryable, tt.wantRetryable)
			}
			if e.Err == nil {
				t.Error("E() Err is nil, want cause")
			}
		})
	}
}

func TestNewNetworkError(t *testing.T) {
	cause := fmt.Errorf("network failure")
	syncErr := NewNetworkError(OpPush, cause)

	if syncErr.Kind != KindNetwork {
		t.Errorf("NewNetworkError() Kind = %v, want %v", syncErr.Kind, KindNetwork)
	}
	if syncErr.Component != "remote" {
		t.Errorf("NewNetworkError() Component = %v, want %v", syncErr.Component, "remote")
	}
	if syncErr.Err != cause {
		t.Errorf("NewNetworkError() Err = %v, want %v", syncErr.Err, cause)
	}
	if !syncErr.Retryable {
		t.Error("NewNetworkError() created non-retryable error")
	}
}

func TestNewStorageError(t *testing.T) {
	cause := fmt.Errorf("storage failure")
	syncErr := NewStorageError(OpPut, cause)

	if syncErr.Kind != KindIO {
		t.Errorf("NewStorageError() Kind = %v, want %v", syncErr.Kind, KindIO)
	}
	if syncErr.Component != "store" {
		t.Errorf("NewStorageError() Component = %v, want %v", syncErr.Component, "store")
	}
	if syncErr.Err != cause {
		t.Errorf("NewStorageError() Err = %v, want %v", syncErr.Err, cause)
	}
	if !syncErr.Retryable {
		t.Error("NewStorageError() created non-retryable error")
	}
}

func TestNewQuotaError(t *testing.T) {
	cause := fmt.Errorf("capacity ceiling reached")
	syncErr := NewQuotaError(OpPut, cause)

	if syncErr.Kind != KindQuota {
		t.Errorf("NewQuotaError() Kind = %v, want %v", syncErr.Kind, KindQuota)
	}
	if syncErr.Retryable {
		t.Error("NewQuotaError() created retryable error when it shouldn't")
	}
}

func TestNewValidationError(t *testing.T) {
	cause := fmt.Errorf("validation failed")
	syncErr := NewValidationError(OpPut, cause)

	if syncErr.Kind != KindValidation {
		t.Errorf("NewValidationError() Kind = %v, want %v", syncErr.Kind, KindValidation)
	}
	if syncErr.Err != cause {
		t.Errorf("NewValidationError() Err = %v, want %v", syncErr.Err, cause)
	}
	if syncErr.Retryable {
		t.Error("NewValidationError() created retryable error when it shouldn't")
	}
}

func TestNewRejectedError(t *testing.T) {
	cause := fmt.Errorf("schema mismatch")
	syncErr := NewRejectedError(OpPush, cause)

	if syncErr.Kind != KindRejected {
		t.Errorf("NewRejectedError() Kind = %v, want %v", syncErr.Kind, KindRejected)
	}
	if syncErr.Retryable {
		t.Error("NewRejectedError() created retryable error when it shouldn't")
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	e := &SyncError{
		Op:  OpPush,
		Err: originalErr,
	}

	if unwrapped := e.Unwrap(); unwrapped != originalErr {
		t.Errorf("SyncError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "retryable sync error",
			err:  NewNetworkError(OpPush, fmt.Errorf("temporary error")),
			want: true,
		},
		{
			name: "non-retryable sync error",
			err:  NewRejectedError(OpPush, fmt.Errorf("permanent error")),
			want: false,
		},
		{
			name: "non-sync error",
			err:  fmt.Errorf("regular error"),
			want: false,
		},
		{
			name: "wrapped retryable error",
			err:  fmt.Errorf("wrapped: %w", NewNetworkError(OpPush, fmt.Errorf("temporary"))),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "direct sync error",
			err:  NewQuotaError(OpPut, fmt.Errorf("full")),
			want: KindQuota,
		},
		{
			name: "wrapped sync error",
			err:  fmt.Errorf("repo: %w", NewNotFound(OpGet, fmt.Errorf("missing"))),
			want: KindNotFound,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("boom"),
			want: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSyncError_Is(t *testing.T) {
	err := E(OpGet, Component("store"), KindNotFound, fmt.Errorf("no such key"))

	if !errors.Is(err, &SyncError{Kind: KindNotFound}) {
		t.Error("errors.Is() failed to match by kind")
	}
	if !errors.Is(err, &SyncError{Op: OpGet, Kind: KindNotFound}) {
		t.Error("errors.Is() failed to match by op and kind")
	}
	if errors.Is(err, &SyncError{Kind: KindQuota}) {
		t.Error("errors.Is() matched the wrong kind")
	}
	if errors.Is(err, &SyncError{Component: "remote"}) {
		t.Error("errors.Is() matched the wrong component")
	}
}

func TestErrorsAs(t *testing.T) {
	var syncErr *SyncError
	err := fmt.Errorf("wrapped: %w", E(OpPush, KindNetwork, fmt.Errorf("inner")))

	if !errors.As(err, &syncErr) {
		t.Error("errors.As() failed to detect SyncError")
	}

	if syncErr.Op != OpPush {
		t.Errorf("errors.As() Op = %v, want %v", syncErr.Op, OpPush)
	}
}
