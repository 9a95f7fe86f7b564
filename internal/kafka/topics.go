package kafka

// Топики событий сверки
const (
	TopicOrderMaterialized      = "order.materialized"
	TopicSubscriptionReconciled = "subscription.reconciled"
	TopicFulfillmentCreated     = "fulfillment.created"
	TopicFulfillmentSkipped     = "fulfillment.skipped"
	TopicPaymentFailed          = "payment.failed"
	TopicPaymentRefunded        = "payment.refunded"
)

// Topics все топики, которые сервис пишет
var Topics = []string{
	TopicOrderMaterialized,
	TopicSubscriptionReconciled,
	TopicFulfillmentCreated,
	TopicFulfillmentSkipped,
	TopicPaymentFailed,
	TopicPaymentRefunded,
}
