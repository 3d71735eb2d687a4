package domain

// NoticeReason says why a revocation notice is sent.
type NoticeReason string

const (
	ReasonRefund NoticeReason = "refund"
	ReasonAdmin  NoticeReason = "admin"
)

// LicenseNotice is what notifiers receive about a lifecycle change.
type LicenseNotice struct {
	License  License
	Email    string
	Name     string
	Reason   NoticeReason
	DaysLeft int
}
