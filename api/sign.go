/*
sign.go - HMAC request signing for the external bonus API

PURPOSE:
  Partner systems (the repair workflow, point-of-sale integrations) call
  POST /api/bonus without a user session. Requests authenticate with a
  shared-secret HMAC over the body:

    Bonus-Signature: t={unix},v1={hex(HMAC-SHA256(secret, "{unix}.{body}"))}

  The timestamp is part of the signed content, so a captured request
  cannot be replayed outside the tolerance window.

SEE ALSO:
  - handlers.go: AwardBonus verifies before decoding
*/
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the bonus API signature.
const SignatureHeader = "Bonus-Signature"

// signatureTolerance bounds how stale a signed request may be.
const signatureTolerance = 5 * time.Minute

// ComputeSignature computes the v1 signature over "{timestamp}.{payload}".
func ComputeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest produces the Bonus-Signature header value for a payload.
// Used by callers and tests; the server only verifies.
func SignRequest(payload []byte, secret string, timestamp int64) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(timestamp, payload, secret))
}

// verifySignature checks a Bonus-Signature header against the payload.
// Comparison is constant-time; the timestamp must fall within the
// tolerance window around now.
func verifySignature(header string, payload []byte, secret string, now time.Time) error {
	var timestamp int64 = -1
	var provided string

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed timestamp in signature header")
			}
			timestamp = ts
		case "v1":
			provided = v
		}
	}
	if timestamp < 0 || provided == "" {
		return fmt.Errorf("malformed signature header")
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	expected := ComputeSignature(timestamp, payload, secret)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
