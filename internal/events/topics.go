package events

// Topic constants for domain events emitted by the billing service.
const (
	TopicBillCreated             = "bill.created"
	TopicBillUpdated             = "bill.updated"
	TopicBillCancelled           = "bill.cancelled"
	TopicPaymentRecorded         = "payment.recorded"
	TopicBalanceRecomputed       = "balance.recomputed"
	TopicReconcilePartialFailure = "reconcile.partial_failure"
)

// DefaultTopics returns every topic the service emits.
func DefaultTopics() []string {
	return []string{
		TopicBillCreated,
		TopicBillUpdated,
		TopicBillCancelled,
		TopicPaymentRecorded,
		TopicBalanceRecomputed,
		TopicReconcilePartialFailure,
	}
}

// PatientScoped reports whether events on topic change a patient's balance.
func PatientScoped(topic string) bool {
	switch topic {
	case TopicBillCreated, TopicBillUpdated, TopicBillCancelled, TopicPaymentRecorded, TopicReconcilePartialFailure:
		return true
	}
	return false
}
