package models

// TeacherAccount mirrors the teacher's connected Stripe account capability
// flags. It gates whether a transfer is attempted; it is never authoritative
// for money movement beyond that.
type TeacherAccount struct {
	ID         string `json:"id"`
	TeacherUID string `json:"teacher_uid"`
	AccountID  string `json:"account_id"`
	AccountCapabilities
}

type AccountCapabilities struct {
	PayoutsEnabled   bool `json:"payouts_enabled"`
	ChargesEnabled   bool `json:"charges_enabled"`
	DetailsSubmitted bool `json:"details_submitted"`
}
