package models

// Статусы матча
const (
	MatchUpcoming  = "upcoming"
	MatchOngoing   = "ongoing"
	MatchCompleted = "completed"
	MatchCancelled = "cancelled"
)

// Статусы бронирования
const (
	BookingActive      = "active"
	BookingCancelled   = "cancelled"
	BookingRescheduled = "rescheduled"
	BookingRefunded    = "refunded"
	BookingCompleted   = "completed"
)

// Статусы оплаты
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// History actions recorded for every booking mutation.
const (
	ActionCreated          = "created"
	ActionPaymentCompleted = "payment_completed"
	ActionPaymentFailed    = "payment_failed"
	ActionUserCancelled    = "user_cancelled"
	ActionPendingExpired   = "pending_expired"
	ActionMatchCancelled   = "match_cancelled"
	ActionMatchRescheduled = "match_rescheduled"
	ActionMatchRefunded    = "match_refunded"
	ActionMatchCompleted   = "match_completed"
	ActionTicketVerified   = "ticket_verified"
)

// Роли пользователей
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleGate     = "gate"
	RolePayments = "payments"
)

// Notification kinds
const (
	NotifyBookingCreated   = "booking_created"
	NotifyPaymentConfirmed = "payment_confirmed"
	NotifyMatchCancelled   = "match_cancelled"
	NotifyMatchRescheduled = "match_rescheduled"
	NotifyMatchRefunded    = "match_refunded"
)

// Notification queue task statuses
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskRetry      = "retry"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

const (
	// DateLayout формат даты матча
	DateLayout = "2006-01-02"
	// TimeLayout формат времени начала матча
	TimeLayout = "15:04"

	// DefaultClosureLeadMinutes за сколько минут до начала закрывается продажа
	DefaultClosureLeadMinutes = 10

	// DefaultMatchDurationMinutes длительность матча по умолчанию
	DefaultMatchDurationMinutes = 120

	// DefaultCompletionGraceMinutes запас после окончания матча
	DefaultCompletionGraceMinutes = 15

	// DefaultPendingTimeoutMinutes время жизни неоплаченной брони
	DefaultPendingTimeoutMinutes = 15

	// DefaultMaxSeatsPerBooking максимум мест в одной брони
	DefaultMaxSeatsPerBooking = 10

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// SeatCacheTTL время жизни кэша занятых мест в секундах
	SeatCacheTTL = 30

	// SettingBookingClosureMinutes ключ настройки окна закрытия продаж
	SettingBookingClosureMinutes = "booking_closure_minutes"
)
