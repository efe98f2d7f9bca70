// Package payment provides the Razorpay gateway client and signature
// verification for payment confirmation callbacks.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signature computes the keyed hash Razorpay signs confirmations with:
// HMAC-SHA256(secret, orderRef + "|" + paymentRef), hex encoded.
func Signature(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a gateway-supplied signature in constant time.
func VerifySignature(secret, orderRef, paymentRef, signature string) bool {
	expected := Signature(secret, orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(signature))
}
