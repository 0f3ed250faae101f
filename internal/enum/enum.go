package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending     = "PENDING"
	OrderStatusConfirmed   = "CONFIRMED"
	OrderStatusProcessing  = "PROCESSING"
	OrderStatusReadyToShip = "READY_TO_SHIP"
	OrderStatusShipped     = "SHIPPED"
	OrderStatusDelivered   = "DELIVERED"
	OrderStatusCancelled   = "CANCELLED"
	OrderStatusReturned    = "RETURNED"
)

const (
	CustomOrderStatusConsultation = "CONSULTATION"
	CustomOrderStatusConfirmed    = "CONFIRMED"
	CustomOrderStatusInProgress   = "IN_PROGRESS"
	CustomOrderStatusCompleted    = "COMPLETED"
	CustomOrderStatusCancelled    = "CANCELLED"
)

const (
	ReturnStatusRequested = "REQUESTED"
	ReturnStatusApproved  = "APPROVED"
	ReturnStatusRejected  = "REJECTED"
	ReturnStatusReceived  = "RECEIVED"
)

// ── Group B: Borderline (CHECK constrained in DB) ──

const (
	UserRoleCustomer = "CUSTOMER"
	UserRoleAdmin    = "ADMIN"
	UserRoleDesigner = "DESIGNER"
)

// Order type is derived from the order contents, never taken from the
// client: STANDARD when only catalog items, CUSTOM when only custom-order
// references, MIXED when both.
const (
	OrderTypeStandard = "STANDARD"
	OrderTypeCustom   = "CUSTOM"
	OrderTypeMixed    = "MIXED"
)

// ── Group C: Configurable labels (no DB constraint) ──

const (
	PaymentMethodCard     = "CARD"
	PaymentMethodTransfer = "TRANSFER"
	PaymentMethodWallet   = "WALLET"
)
