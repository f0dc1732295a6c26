package redisx

import "time"

const (
	// idem:submission:{idempotency_key} -> correlation id of the run holding the claim
	KeyIdemSubmission = "idem:submission:%s"

	// order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// steplog:{correlation_id} -> JSON step log of one submission
	KeyStepLog = "steplog:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLStepLog     = 48 * time.Hour
)
