package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

// DefaultTolerance is the maximum allowed webhook timestamp skew.
const DefaultTolerance = 5 * time.Minute

// VerifySignature checks the Stripe-Signature header against the webhook
// secret: HMAC-SHA256 over "<timestamp>.<payload>". Header format is
// "t=<unix>,v1=<hex>[,v1=<hex>...]"; any matching v1 passes. Rejects
// timestamps outside tolerance to stop replays.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return &domain.ErrUnauthorized{Message: "missing webhook signature"}
	}

	var timestamp int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return &domain.ErrUnauthorized{Message: "malformed webhook signature timestamp"}
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if timestamp == 0 || len(candidates) == 0 {
		return &domain.ErrUnauthorized{Message: "malformed webhook signature header"}
	}

	skew := now.Sub(time.Unix(timestamp, 0))
	if skew > tolerance || skew < -tolerance {
		return &domain.ErrUnauthorized{Message: "webhook timestamp outside tolerance"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return &domain.ErrUnauthorized{Message: "webhook signature mismatch"}
}

// SignPayload produces a valid Stripe-Signature header for a payload,
// used by tests and the local webhook replayer.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
