package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestClassifyConfirmConflict(t *testing.T) {
	t.Parallel()

	txn := func(id string) pgtype.Text {
		return pgtype.Text{String: id, Valid: true}
	}

	tests := []struct {
		name          string
		paymentStatus string
		orderStatus   string
		existingTxn   pgtype.Text
		transactionID string
		wantErr       error
	}{
		{
			name:          "redelivery with same transaction is idempotent",
			paymentStatus: "completed",
			orderStatus:   "confirmed",
			existingTxn:   txn("pay_abc"),
			transactionID: "pay_abc",
			wantErr:       nil,
		},
		{
			name:          "completed with different transaction is a mismatch",
			paymentStatus: "completed",
			orderStatus:   "confirmed",
			existingTxn:   txn("pay_abc"),
			transactionID: "pay_other",
			wantErr:       ErrTransactionMismatch,
		},
		{
			name:          "failed payment cannot be confirmed",
			paymentStatus: "failed",
			orderStatus:   "cancelled",
			transactionID: "pay_abc",
			wantErr:       ErrInvalidStatusTransition,
		},
		{
			name:          "cancelled order with pending payment cannot be confirmed",
			paymentStatus: "pending",
			orderStatus:   "cancelled",
			transactionID: "pay_abc",
			wantErr:       ErrInvalidStatusTransition,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := classifyConfirmConflict(tc.paymentStatus, tc.orderStatus, tc.existingTxn, tc.transactionID)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("classifyConfirmConflict() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("classifyConfirmConflict() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
