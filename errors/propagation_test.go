package errors_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sidelinehq/coachsync/errors"
)

// TestWrapOpComponent tests the WrapOpComponent helper function
func TestWrapOpComponent(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		op           string
		component    string
		expectedOp   errors.Op
		expectedComp errors.Component
		nilError     bool
	}{
		{
			name:      "nil error returns nil",
			err:       nil,
			op:        "bolt.Put",
			component: "localstore/bolt",
			nilError:  true,
		},
		{
			name:         "basic error wrapping",
			err:          fmt.Errorf("underlying error"),
			op:           "bolt.Put",
			component:    "localstore/bolt",
			expectedOp:   errors.Op("bolt.Put"),
			expectedComp: "localstore/bolt",
		},
		{
			name:         "complex operation name",
			err:          fmt.Errorf("database connection failed"),
			op:           "sqlite.Open",
			component:    "localstore/sqlite",
			expectedOp:   errors.Op("sqlite.Open"),
			expectedComp: "localstore/sqlite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errors.WrapOpComponent(tt.err, tt.op, tt.component)

			if tt.nilError {
				if result != nil {
					t.Errorf("Expected nil error, got %v", result)
				}
				return
			}

			if result == nil {
				t.Error("Expected wrapped error, got nil")
				return
			}

			syncErr, ok := result.(*errors.SyncError)
			if !ok {
				t.Errorf("Expected *SyncError, got %T", result)
				return
			}

			if syncErr.Op != tt.expectedOp {
				t.Errorf("Expected Op %s, got %s", tt.expectedOp, syncErr.Op)
			}

			if syncErr.Component != tt.expectedComp {
				t.Errorf("Expected Component %s, got %s", tt.expectedComp, syncErr.Component)
			}

			if syncErr.Err != tt.err {
				t.Errorf("Expected underlying error %v, got %v", tt.err, syncErr.Err)
			}
		})
	}
}

// TestWrapOpComponentKind tests the WrapOpComponentKind helper function
func TestWrapOpComponentKind(t *testing.T) {
	err := fmt.Errorf("test error")
	result := errors.WrapOpComponentKind(err, "queue.Drain", "queue", errors.KindNetwork)

	if result == nil {
		t.Fatal("Expected wrapped error, got nil")
	}

	syncErr, ok := result.(*errors.SyncError)
	if !ok {
		t.Fatalf("Expected *SyncError, got %T", result)
	}

	if syncErr.Op != "queue.Drain" {
		t.Errorf("Expected Op 'queue.Drain', got %s", syncErr.Op)
	}

	if syncErr.Component != "queue" {
		t.Errorf("Expected Component 'queue', got %s", syncErr.Component)
	}

	if syncErr.Kind != errors.KindNetwork {
		t.Errorf("Expected Kind %s, got %s", errors.KindNetwork, syncErr.Kind)
	}

	if !syncErr.Retryable {
		t.Error("Expected network kind to default retryable")
	}

	if syncErr.Err != err {
		t.Errorf("Expected underlying error %v, got %v", err, syncErr.Err)
	}

	errMsg := syncErr.Error()
	if !strings.Contains(errMsg, "queue.Drain") {
		t.Errorf("Error message should contain operation, got: %s", errMsg)
	}
	if !strings.Contains(errMsg, "queue") {
		t.Errorf("Error message should contain component, got: %s", errMsg)
	}
}
