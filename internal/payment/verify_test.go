package payment

import "testing"

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	const secret = "rzp_test_secret"
	valid := Signature(secret, "order_N8x1", "pay_M2k9")

	tests := []struct {
		name       string
		secret     string
		orderRef   string
		paymentRef string
		signature  string
		want       bool
	}{
		{
			name:       "valid signature",
			secret:     secret,
			orderRef:   "order_N8x1",
			paymentRef: "pay_M2k9",
			signature:  valid,
			want:       true,
		},
		{
			name:       "tampered signature",
			secret:     secret,
			orderRef:   "order_N8x1",
			paymentRef: "pay_M2k9",
			signature:  valid[:len(valid)-1] + "0",
			want:       false,
		},
		{
			name:       "different payment ref",
			secret:     secret,
			orderRef:   "order_N8x1",
			paymentRef: "pay_other",
			signature:  valid,
			want:       false,
		},
		{
			name:       "wrong secret",
			secret:     "another_secret",
			orderRef:   "order_N8x1",
			paymentRef: "pay_M2k9",
			signature:  valid,
			want:       false,
		},
		{
			name:       "empty signature",
			secret:     secret,
			orderRef:   "order_N8x1",
			paymentRef: "pay_M2k9",
			signature:  "",
			want:       false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := VerifySignature(tc.secret, tc.orderRef, tc.paymentRef, tc.signature)
			if got != tc.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSignatureIsDeterministicHex(t *testing.T) {
	t.Parallel()

	a := Signature("secret", "order_1", "pay_1")
	b := Signature("secret", "order_1", "pay_1")
	if a != b {
		t.Errorf("Signature() not deterministic: %q != %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Signature() length = %d, want 64 hex chars", len(a))
	}
}
