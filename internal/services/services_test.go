package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lessonpay/internal/gateway"
	"lessonpay/internal/store"
	"lessonpay/models"
)

// In-memory doubles for the store and gateway contracts. The payment fake
// keeps the conditional status-transition semantics of the real store so the
// at-most-once properties are testable without a database.

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
	order    []string
	nextID   int

	createErr error
	markErr   error
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: map[string]*models.Payment{}}
}

func (f *fakePaymentStore) put(p *models.Payment) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		f.nextID++
		p.ID = fmt.Sprintf("pay_%d", f.nextID)
	}
	if _, exists := f.payments[p.ID]; !exists {
		f.order = append(f.order, p.ID)
	}
	f.payments[p.ID] = p
	return p
}

func (f *fakePaymentStore) CreateHeld(ctx context.Context, p *models.Payment) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	cp := *p
	cp.Status = models.PaymentHeld
	cp.CreatedAt = time.Now()
	return f.put(&cp).ID, nil
}

func (f *fakePaymentStore) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentStore) GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.SessionID == sessionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakePaymentStore) ListHeld(ctx context.Context, limit int) ([]*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Payment
	for _, id := range f.order {
		if len(out) >= limit {
			break
		}
		p, ok := f.payments[id]
		if ok && p.Status == models.PaymentHeld {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePaymentStore) MarkReleased(ctx context.Context, id, transferID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != models.PaymentHeld {
		return store.ErrStatusConflict
	}
	p.Status = models.PaymentReleased
	p.TransferID = transferID
	p.ReleasedAt = time.Now()
	p.LastReleaseError = ""
	return nil
}

func (f *fakePaymentStore) MarkRefunded(ctx context.Context, id string, from models.PaymentStatus, upd models.RefundUpdate) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != from {
		return store.ErrStatusConflict
	}
	p.Status = models.PaymentRefunded
	p.RefundedAt = time.Now()
	p.RefundID = upd.RefundID
	p.RefundAmountEUR = upd.RefundAmountEUR
	p.RefundReason = upd.RefundReason
	p.RefundedBy = upd.RefundedBy
	p.ReverseTransferID = upd.ReverseTransferID
	p.ReverseAmountEUR = upd.ReverseAmountEUR
	return nil
}

func (f *fakePaymentStore) RecordReleaseError(ctx context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return store.ErrNotFound
	}
	p.LastReleaseError = msg
	return nil
}

type fakeLessonStore struct {
	mu      sync.Mutex
	lessons map[string]*models.Lesson

	paidCalls    []string // "lessonID/studentID/payerID"
	clearedCalls []string // "lessonID/studentID"
	markErr      error
}

func newFakeLessonStore() *fakeLessonStore {
	return &fakeLessonStore{lessons: map[string]*models.Lesson{}}
}

func (f *fakeLessonStore) put(l *models.Lesson) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lessons[l.ID] = l
}

func (f *fakeLessonStore) GetByID(ctx context.Context, id string) (*models.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lessons[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeLessonStore) MarkParticipantPaid(ctx context.Context, lessonID, studentID, payerID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paidCalls = append(f.paidCalls, lessonID+"/"+studentID+"/"+payerID)
	return nil
}

func (f *fakeLessonStore) ClearParticipantPaid(ctx context.Context, lessonID, studentID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedCalls = append(f.clearedCalls, lessonID+"/"+studentID)
	return nil
}

type fakeAccountStore struct {
	mu       sync.Mutex
	byUID    map[string]*models.TeacherAccount
	capCalls []models.AccountCapabilities
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{byUID: map[string]*models.TeacherAccount{}}
}

func (f *fakeAccountStore) put(a *models.TeacherAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUID[a.TeacherUID] = a
}

func (f *fakeAccountStore) GetByTeacher(ctx context.Context, teacherUID string) (*models.TeacherAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byUID[teacherUID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccountStore) GetByAccountID(ctx context.Context, accountID string) (*models.TeacherAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byUID {
		if a.AccountID == accountID {
			return a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeAccountStore) SaveAccountID(ctx context.Context, teacherUID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byUID[teacherUID]
	if !ok {
		a = &models.TeacherAccount{TeacherUID: teacherUID}
		f.byUID[teacherUID] = a
	}
	a.AccountID = accountID
	return nil
}

func (f *fakeAccountStore) UpdateCapabilities(ctx context.Context, accountID string, caps models.AccountCapabilities) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capCalls = append(f.capCalls, caps)
	for _, a := range f.byUID {
		if a.AccountID == accountID {
			a.AccountCapabilities = caps
			return nil
		}
	}
	return store.ErrNotFound
}

// fakeGateway records every processor call so tests can assert on exactly
// what was (or was not) sent out.
type fakeGateway struct {
	mu sync.Mutex

	checkoutReqs []gateway.CheckoutRequest
	checkoutErr  error
	session      *gateway.CheckoutSession
	sessionErr   error

	transferReqs []gateway.TransferRequest
	transferErr  error

	reversals   []reverseCall
	reverseErr  error
	refunds     []refundCall
	refundErr   error
	account     *gateway.Account
	accountErr  error
	createdAcct int
	links       []string
}

type reverseCall struct {
	TransferID     string
	AmountCents    int64
	IdempotencyKey string
}

type refundCall struct {
	PaymentIntentID string
	AmountCents     int64
	Reason          string
	IdempotencyKey  string
}

func (f *fakeGateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutReqs = append(f.checkoutReqs, req)
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return &gateway.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test", Metadata: req.Metadata}, nil
}

func (f *fakeGateway) RetrieveSession(ctx context.Context, sessionID string) (*gateway.CheckoutSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeGateway) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferReqs = append(f.transferReqs, req)
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	return &gateway.Transfer{ID: fmt.Sprintf("tr_%d", len(f.transferReqs))}, nil
}

func (f *fakeGateway) ReverseTransfer(ctx context.Context, transferID string, amountCents int64, idempotencyKey string) (*gateway.Reversal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reversals = append(f.reversals, reverseCall{transferID, amountCents, idempotencyKey})
	if f.reverseErr != nil {
		return nil, f.reverseErr
	}
	return &gateway.Reversal{ID: fmt.Sprintf("trr_%d", len(f.reversals)), AmountCents: amountCents}, nil
}

func (f *fakeGateway) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, reason, idempotencyKey string) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, refundCall{paymentIntentID, amountCents, reason, idempotencyKey})
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &gateway.Refund{ID: fmt.Sprintf("re_%d", len(f.refunds)), AmountCents: amountCents}, nil
}

func (f *fakeGateway) RetrieveAccount(ctx context.Context, accountID string) (*gateway.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.account != nil {
		return f.account, nil
	}
	return &gateway.Account{ID: accountID}, nil
}

func (f *fakeGateway) CreateAccount(ctx context.Context) (*gateway.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	f.createdAcct++
	return &gateway.Account{ID: fmt.Sprintf("acct_new_%d", f.createdAcct)}, nil
}

func (f *fakeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, accountID)
	return "https://connect.test/onboard/" + accountID, nil
}

type noopNotifier struct {
	mu       sync.Mutex
	captured []string
	released []string
	refunded []string
}

func (n *noopNotifier) PaymentCaptured(p *models.Payment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.captured = append(n.captured, p.ID)
}

func (n *noopNotifier) PaymentReleased(p *models.Payment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.released = append(n.released, p.ID)
}

func (n *noopNotifier) PaymentRefunded(p *models.Payment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunded = append(n.refunded, p.ID)
}

func eur(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func heldPayment(id, lessonID string, gross, fee string) *models.Payment {
	g := eur(gross)
	f := eur(fee)
	return &models.Payment{
		ID:              id,
		LessonID:        lessonID,
		PayerUID:        "payer1",
		ForStudentID:    "student1",
		TeacherUID:      "teacher1",
		SessionID:       "cs_" + id,
		PaymentIntentID: "pi_" + id,
		GrossEUR:        g,
		FeeEUR:          f,
		NetToTeacherEUR: g.Sub(f),
		Status:          models.PaymentHeld,
		CreatedAt:       time.Now().Add(-time.Hour),
	}
}
