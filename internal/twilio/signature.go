package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
)

// ComputeSignature implements Twilio's request signing scheme: the full
// request URL is concatenated with every POST parameter name+value pair in
// lexicographic parameter order, HMAC-SHA1'd with the account auth token,
// and base64 encoded. This is the value Twilio sends in X-Twilio-Signature.
func ComputeSignature(authToken string, fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(fullURL))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params[k]))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature reports whether a webhook signature matches the request.
// Pure check, no side effects.
func ValidateSignature(authToken string, signature string, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}
