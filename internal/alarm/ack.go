package alarm

// AckResult is the outcome of an acknowledgement request (spec.md §4.4
// "Acknowledgement").
type AckResult string

const (
	AckSuccess            AckResult = "SUCCESS"
	AckAlarmNotPresent    AckResult = "ALARM_NOT_PRESENT"
	AckInvalidAlarmRequest AckResult = "INVALID_ALARM_REQUEST"
)

// Ack applies an external acknowledgement request for (table, key,
// alarmType) carrying the timestamp the requester observed. It rejects
// stale or unknown requests and is idempotent for an alarm already acked.
func (e *Engine) Ack(table, key, alarmType string, timestamp int64) AckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[recordKey{table: table, key: key, name: alarmType}]
	if !ok {
		return AckAlarmNotPresent
	}
	if rec.Ack && rec.AckedAt == timestamp {
		return AckSuccess
	}
	if rec.Timestamp != timestamp {
		return AckInvalidAlarmRequest
	}
	rec.Ack = true
	rec.AckedAt = timestamp
	e.publishLocked(rec)
	return AckSuccess
}
