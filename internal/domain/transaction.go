package domain

// Transaction is an ingested financial transaction to be evaluated.
// Records are immutable after ingestion and retained in an append-only
// per-account history used by velocity computation.
type Transaction struct {
	TxnID     string `json:"txn_id"`
	AccountID string `json:"account_id"`

	// Timestamp keeps the wire form. Upstream feeds occasionally append the
	// timezone offset twice; interpretation belongs to the tolerant parser
	// in the features package, not to JSON decoding.
	Timestamp string `json:"timestamp"`

	Amount              float64 `json:"amount"`
	Currency            string  `json:"currency"`
	CounterpartyCountry string  `json:"counterparty_country"`
}

// Account is reference data linking an account to its customer.
type Account struct {
	AccountID   string `json:"account_id"`
	CustomerID  string `json:"customer_id"`
	Country     string `json:"country"`
	OpenedAt    string `json:"opened_at"`
	AccountType string `json:"account_type,omitempty"`
}

// Customer is reference data describing the account holder.
type Customer struct {
	CustomerID string `json:"customer_id"`
	FullName   string `json:"full_name"`
	DOB        string `json:"dob,omitempty"`
	KYCLevel   string `json:"kyc_level"`
	PEPFlag    bool   `json:"pep_flag"`
}

// KYC verification tiers.
const (
	KYCBasic    = "basic"
	KYCStandard = "standard"
	KYCEnhanced = "enhanced"
)
