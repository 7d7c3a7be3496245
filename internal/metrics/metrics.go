package metrics

import "expvar"

var (
	RoundsStarted = expvar.NewMap("rounds_started") // key: sale / trade

	Registrations   = expvar.NewInt("registrations")
	Purchases       = expvar.NewInt("purchases")
	OrdersAdded     = expvar.NewInt("orders_added")
	OrdersRedeemed  = expvar.NewInt("orders_redeemed")
	OrdersRemoved   = expvar.NewInt("orders_removed")
	OrdersForced    = expvar.NewInt("orders_force_closed")
	OperationErrors = expvar.NewMap("operation_errors") // key: error code

	PayoutsDelivered = expvar.NewInt("payouts_delivered")
	PayoutsFailed    = expvar.NewInt("payouts_failed")

	SnapshotSaves  = expvar.NewInt("snapshot_saves")
	SnapshotLoads  = expvar.NewInt("snapshot_loads")
	SnapshotErrors = expvar.NewInt("snapshot_errors")
	JournalErrors  = expvar.NewInt("journal_errors")
)
