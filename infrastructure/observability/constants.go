package observability

// Metric name prefixes
const (
	MetricPrefix = "raffler"
)

// Metric names
const (
	// Raffle metrics
	EntriesTotal        = MetricPrefix + ".raffle.entries_total"
	DrawsRequestedTotal = MetricPrefix + ".raffle.draws_requested_total"
	WinnersPickedTotal  = MetricPrefix + ".raffle.winners_picked_total"
	PoolBalance         = MetricPrefix + ".raffle.pool_balance"
	PayoutAmount        = MetricPrefix + ".raffle.payout_amount"

	// NATS metrics
	NATSMessagesReceivedTotal  = MetricPrefix + ".nats.messages_received_total"
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"

	// Balance metrics
	BalanceTransactionsTotal = MetricPrefix + ".balance.transactions_total"
)

// Label keys
const (
	LabelType      = "type"
	LabelEventType = "event_type"
	LabelRedraw    = "redraw"
)
