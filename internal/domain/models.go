package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindPurchase TransactionKind = "PURCHASE"
	KindSale     TransactionKind = "SALE"
)

type TransactionStatus string

const (
	StatusDraft     TransactionStatus = "DRAFT"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "PAID"
	PaymentOnCredit PaymentStatus = "ON_CREDIT"
)

type CounterpartKind string

const (
	CounterpartCustomer CounterpartKind = "CUSTOMER"
	CounterpartSupplier CounterpartKind = "SUPPLIER"
)

type AccountKind string

const (
	AccountReceivable AccountKind = "RECEIVABLE"
	AccountPayable    AccountKind = "PAYABLE"
)

type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "GOOD"
	ConditionDamaged ReturnCondition = "DAMAGED"
	ConditionExpired ReturnCondition = "EXPIRED"
)

type DueDateRisk string

const (
	RiskOverdue  DueDateRisk = "overdue"
	RiskCritical DueDateRisk = "critical"
	RiskWarning  DueDateRisk = "warning"
	RiskSafe     DueDateRisk = "safe"
)

type CreditPolicy string

const (
	CreditPolicyStrict  CreditPolicy = "strict"
	CreditPolicyLenient CreditPolicy = "lenient"
)

const (
	BasisSnapshots               = "snapshots"
	BasisFallbackPreviousMissing = "fallback_previous_missing"
)

func ParseTransactionKind(raw string) (TransactionKind, bool) {
	switch TransactionKind(raw) {
	case KindPurchase, KindSale:
		return TransactionKind(raw), true
	}
	return "", false
}

func ParseTransactionStatus(raw string) (TransactionStatus, bool) {
	switch TransactionStatus(raw) {
	case StatusDraft, StatusCompleted, StatusCancelled:
		return TransactionStatus(raw), true
	}
	return "", false
}

func ParseCounterpartKind(raw string) (CounterpartKind, bool) {
	switch CounterpartKind(raw) {
	case CounterpartCustomer, CounterpartSupplier:
		return CounterpartKind(raw), true
	}
	return "", false
}

func ParseReturnCondition(raw string) (ReturnCondition, bool) {
	switch ReturnCondition(raw) {
	case ConditionGood, ConditionDamaged, ConditionExpired:
		return ReturnCondition(raw), true
	}
	return "", false
}

func ParseCreditPolicy(raw string) (CreditPolicy, bool) {
	switch CreditPolicy(raw) {
	case CreditPolicyStrict, CreditPolicyLenient:
		return CreditPolicy(raw), true
	}
	return "", false
}

// DocumentKind is the only document kind the counterpart may appear on.
func (k CounterpartKind) DocumentKind() TransactionKind {
	if k == CounterpartSupplier {
		return KindPurchase
	}
	return KindSale
}

func (k CounterpartKind) AccountKind() AccountKind {
	if k == CounterpartSupplier {
		return AccountPayable
	}
	return AccountReceivable
}

type Actor struct {
	Username string
	Role     string
}

type Item struct {
	ID                      string    `json:"id"`
	SKU                     string    `json:"sku"`
	Name                    string    `json:"name"`
	StockBaseUnits          int64     `json:"stock_base_units"`
	PackageSize             int64     `json:"package_size"`
	PackageLabel            string    `json:"package_label"`
	DailySaleLimitBaseUnits int64     `json:"daily_sale_limit_base_units"`
	CreatedOn               time.Time `json:"created_on"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

type ItemCreateRequest struct {
	SKU                     string `json:"sku"`
	Name                    string `json:"name"`
	PackageSize             int64  `json:"package_size"`
	PackageLabel            string `json:"package_label"`
	InitialStockBaseUnits   int64  `json:"initial_stock_base_units"`
	DailySaleLimitBaseUnits int64  `json:"daily_sale_limit_base_units"`
}

type StockLevel struct {
	ItemID            string          `json:"item_id"`
	SKU               string          `json:"sku"`
	StockBaseUnits    int64           `json:"stock_base_units"`
	PackageSize       int64           `json:"package_size"`
	PackageLabel      string          `json:"package_label"`
	Packages          int64           `json:"packages"`
	LooseUnits        int64           `json:"loose_units"`
	PackageEquivalent decimal.Decimal `json:"package_equivalent"`
}

type Counterpart struct {
	ID        string          `json:"id"`
	Kind      CounterpartKind `json:"kind"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
}

type CounterpartCreateRequest struct {
	Kind        CounterpartKind `json:"kind"`
	Name        string          `json:"name"`
	CreditLimit int64           `json:"credit_limit"`
}

// CreditAccount shares its ID with the owning counterpart.
type CreditAccount struct {
	ID        string      `json:"id"`
	Kind      AccountKind `json:"kind"`
	Balance   int64       `json:"balance"`
	Limit     int64       `json:"limit"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type CounterpartResponse struct {
	Counterpart Counterpart   `json:"counterpart"`
	Account     CreditAccount `json:"account"`
}

type OpenCreditDocument struct {
	TransactionID string          `json:"transaction_id"`
	Kind          TransactionKind `json:"kind"`
	Total         int64           `json:"total"`
	AmountPaid    int64           `json:"amount_paid"`
	Outstanding   int64           `json:"outstanding"`
	DueDate       time.Time       `json:"due_date"`
	DaysUntilDue  int             `json:"days_until_due"`
	Risk          DueDateRisk     `json:"risk"`
}

type CreditStatus struct {
	AccountID          string               `json:"account_id"`
	Kind               AccountKind          `json:"kind"`
	Balance            int64                `json:"balance"`
	Limit              int64                `json:"limit"`
	Available          int64                `json:"available"`
	UtilizationPercent decimal.Decimal      `json:"utilization_percent"`
	OverLimit          bool                 `json:"over_limit"`
	OpenDocuments      []OpenCreditDocument `json:"open_documents"`
}

type CreditPaymentRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

type Transaction struct {
	ID             string            `json:"id"`
	Kind           TransactionKind   `json:"kind"`
	CounterpartID  string            `json:"counterpart_id"`
	Subtotal       int64             `json:"subtotal"`
	HeaderDiscount int64             `json:"header_discount"`
	Total          int64             `json:"total"`
	AmountPaid     int64             `json:"amount_paid"`
	Change         int64             `json:"change"`
	PaymentStatus  PaymentStatus     `json:"payment_status,omitempty"`
	Status         TransactionStatus `json:"status"`
	DueDate        *time.Time        `json:"due_date,omitempty"`
	SoftDeleted    bool              `json:"soft_deleted"`
	Note           string            `json:"note,omitempty"`
	CompletedOn    *time.Time        `json:"completed_on,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
	Lines          []TransactionLine `json:"lines"`
}

type TransactionLine struct {
	LineNo         int    `json:"line_no"`
	ItemID         string `json:"item_id"`
	PackageQty     int64  `json:"package_qty"`
	UnitQty        int64  `json:"unit_qty"`
	PackageSize    int64  `json:"package_size"`
	UnitPrice      int64  `json:"unit_price"`
	Discount       int64  `json:"discount"`
	TotalBaseUnits int64  `json:"total_base_units"`
	LineTotal      int64  `json:"line_total"`
}

type DraftLineRequest struct {
	ItemID     string `json:"item_id"`
	PackageQty int64  `json:"package_qty"`
	UnitQty    int64  `json:"unit_qty"`
	UnitPrice  int64  `json:"unit_price"`
	Discount   int64  `json:"discount"`
}

type DraftRequest struct {
	Kind           TransactionKind    `json:"kind"`
	CounterpartID  string             `json:"counterpart_id"`
	HeaderDiscount int64              `json:"header_discount"`
	Note           string             `json:"note"`
	Lines          []DraftLineRequest `json:"lines"`
}

type PaymentRequest struct {
	AmountPaid int64      `json:"amount_paid"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

type TransactionFilter struct {
	Kind           TransactionKind
	Status         TransactionStatus
	CounterpartID  string
	IncludeDeleted bool
	Limit          int
}

type CreditWarning struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Limit     int64  `json:"limit"`
	Message   string `json:"message"`
}

type CompletionResult struct {
	Transaction   Transaction    `json:"transaction"`
	Account       *CreditAccount `json:"account,omitempty"`
	CreditWarning *CreditWarning `json:"credit_warning,omitempty"`
}

// CompletionPlan carries everything the store must apply atomically when a
// draft is completed. Limits are re-checked under the store's lock.
type CompletionPlan struct {
	TransactionID      string
	Lines              []TransactionLine
	Subtotal           int64
	Total              int64
	AmountPaid         int64
	Change             int64
	PaymentStatus      PaymentStatus
	DueDate            *time.Time
	CreditDelta        int64
	EnforceCreditLimit bool
	CompletedOn        time.Time
	CompletedAt        time.Time
}

type ReturnRecord struct {
	ID             string          `json:"id"`
	ItemID         string          `json:"item_id"`
	SaleID         string          `json:"sale_id,omitempty"`
	PackageQty     int64           `json:"package_qty"`
	UnitQty        int64           `json:"unit_qty"`
	TotalBaseUnits int64           `json:"total_base_units"`
	Condition      ReturnCondition `json:"condition"`
	Note           string          `json:"note,omitempty"`
	ReturnDate     time.Time       `json:"return_date"`
	AppliedToStock bool            `json:"applied_to_stock"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ReturnRequest struct {
	ItemID     string          `json:"item_id"`
	SaleID     string          `json:"sale_id,omitempty"`
	PackageQty int64           `json:"package_qty"`
	UnitQty    int64           `json:"unit_qty"`
	Condition  ReturnCondition `json:"condition"`
	Note       string          `json:"note"`
	ReturnDate *time.Time      `json:"return_date,omitempty"`
}

type ReturnUpdateRequest struct {
	PackageQty int64           `json:"package_qty"`
	UnitQty    int64           `json:"unit_qty"`
	Condition  ReturnCondition `json:"condition"`
	Note       string          `json:"note"`
}

type DailySnapshot struct {
	ItemID            string    `json:"item_id"`
	Date              time.Time `json:"date"`
	StockAtDate       int64     `json:"stock_at_date"`
	InboundSuffixSum  int64     `json:"inbound_suffix_sum"`
	OutboundSuffixSum int64     `json:"outbound_suffix_sum"`
	MaterializedAt    time.Time `json:"materialized_at"`
}

// SnapshotInvalidation marks an item whose snapshots from FromDate onwards
// were computed before a backdated change.
type SnapshotInvalidation struct {
	ItemID    string    `json:"item_id"`
	FromDate  time.Time `json:"from_date"`
	CreatedAt time.Time `json:"created_at"`
}

// DayMovement is the committed inbound and outbound volume of one item on
// one civil day.
type DayMovement struct {
	ItemID   string
	Day      time.Time
	Inbound  int64
	Outbound int64
}

type Movement struct {
	ItemID           string          `json:"item_id"`
	SKU              string          `json:"sku,omitempty"`
	Date             time.Time       `json:"date"`
	Inbound          int64           `json:"inbound_base_units"`
	Outbound         int64           `json:"outbound_base_units"`
	InboundPackages  decimal.Decimal `json:"inbound_packages"`
	OutboundPackages decimal.Decimal `json:"outbound_packages"`
	PackageLabel     string          `json:"package_label,omitempty"`
	Basis            string          `json:"basis"`
}

type MaterializeRequest struct {
	Dates        []time.Time
	RebuildStale bool
	Now          time.Time
}

type MaterializeResult struct {
	Dates        []time.Time `json:"dates"`
	Anchor       time.Time   `json:"anchor"`
	RowsWritten  int         `json:"rows_written"`
	RowsShifted  int         `json:"rows_shifted"`
	RebuiltItems []string    `json:"rebuilt_items,omitempty"`
	// Touched lists every (item, date) whose stored row was rewritten.
	Touched []SnapshotKey `json:"-"`
}

type SnapshotKey struct {
	ItemID string
	Date   time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
