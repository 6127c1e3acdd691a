package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 the gateway attaches to a checkout
// callback: HMAC(secret, remoteOrderID + "|" + paymentID).
func Sign(secret, remoteOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(remoteOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(secret, remoteOrderID, paymentID, signature string) bool {
	expected := Sign(secret, remoteOrderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
