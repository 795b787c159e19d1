package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPurchaseStatus_Transitions(t *testing.T) {
	allowed := map[PurchaseStatus][]PurchaseStatus{
		PurchaseStatusPending:   {PurchaseStatusCompleted, PurchaseStatusFailed, PurchaseStatusCanceled},
		PurchaseStatusCompleted: {PurchaseStatusRefunded, PurchaseStatusCanceled},
	}
	for _, from := range AllPurchaseStatuses {
		for _, to := range AllPurchaseStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			require.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestPurchaseStatus_CompletedToPendingIsIllegal(t *testing.T) {
	require.False(t, PurchaseStatusCompleted.CanTransitionTo(PurchaseStatusPending))
}

func TestPurchaseStatus_ScanRejectsUnknown(t *testing.T) {
	var s PurchaseStatus
	require.NoError(t, s.Scan([]byte("completed")))
	require.Equal(t, PurchaseStatusCompleted, s)
	require.Error(t, s.Scan("paid"))
	require.Error(t, s.Scan(42))
}

func TestPurchaseStatus_UnmarshalRejectsUnknown(t *testing.T) {
	var v struct {
		Status PurchaseStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"refunded"}`), &v))
	require.Equal(t, PurchaseStatusRefunded, v.Status)
	require.Error(t, json.Unmarshal([]byte(`{"status":"bogus"}`), &v))
}

func TestPurchaseStatus_ValueRejectsZero(t *testing.T) {
	_, err := PurchaseStatus("").Value()
	require.Error(t, err)
}
