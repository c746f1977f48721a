package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonpay/internal/gateway"
	"lessonpay/models"
)

func setupReleaseTest(t *testing.T) (*ReleaseService, *fakePaymentStore, *fakeLessonStore, *fakeAccountStore, *fakeGateway, *noopNotifier, redismock.ClientMock) {
	t.Helper()

	payments := newFakePaymentStore()
	lessons := newFakeLessonStore()
	accounts := newFakeAccountStore()
	gw := &fakeGateway{}
	notifier := &noopNotifier{}
	redisClient, redisMock := redismock.NewClientMock()

	svc := NewReleaseService(
		payments, lessons, accounts, gw, redisClient, notifier,
		50, 5*time.Minute, 5*time.Second,
	)
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc, payments, lessons, accounts, gw, notifier, redisMock
}

func expectReleaseLock(m redismock.ClientMock) {
	m.ExpectSetNX(releaseLockKey, "1", 5*time.Minute).SetVal(true)
	m.ExpectDel(releaseLockKey).SetVal(1)
}

func startedLesson(id string) *models.Lesson {
	l := testLesson(id)
	l.StartTime = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	return l
}

func futureLesson(id string) *models.Lesson {
	l := testLesson(id)
	l.StartTime = time.Date(2026, 3, 11, 11, 0, 0, 0, time.UTC)
	return l
}

func TestReleaseDue_TransfersStartedLessons(t *testing.T) {
	svc, payments, lessons, accounts, gw, notifier, redisMock := setupReleaseTest(t)
	expectReleaseLock(redisMock)

	lessons.put(startedLesson("lesson1"))
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})
	payments.put(heldPayment("pay_1", "lesson1", "50", "2.5"))

	report, err := svc.ReleaseDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReleaseReport{Processed: 1, Released: 1}, report)

	require.Len(t, gw.transferReqs, 1)
	req := gw.transferReqs[0]
	assert.Equal(t, int64(4750), req.AmountCents)
	assert.Equal(t, "acct_1", req.DestinationAccount)
	assert.Equal(t, "lesson_lesson1", req.TransferGroup)
	assert.Equal(t, "release:pay_1", req.IdempotencyKey)

	p, err := payments.GetByID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReleased, p.Status)
	assert.NotEmpty(t, p.TransferID)
	assert.Equal(t, []string{"pay_1"}, notifier.released)
}

func TestReleaseDue_FutureLessonStaysHeld(t *testing.T) {
	svc, payments, lessons, accounts, gw, _, redisMock := setupReleaseTest(t)
	expectReleaseLock(redisMock)

	lessons.put(futureLesson("lesson1"))
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})
	payments.put(heldPayment("pay_1", "lesson1", "50", "2.5"))

	report, err := svc.ReleaseDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReleaseReport{Processed: 1, Skipped: 1}, report)

	assert.Empty(t, gw.transferReqs)
	p, _ := payments.GetByID(context.Background(), "pay_1")
	assert.Equal(t, models.PaymentHeld, p.Status)
}

func TestReleaseDue_MissingAccountSkipsAndRecords(t *testing.T) {
	svc, payments, lessons, accounts, gw, _, redisMock := setupReleaseTest(t)
	expectReleaseLock(redisMock)

	lessons.put(startedLesson("lesson1"))
	lessons.put(startedLesson("lesson2"))
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher2", AccountID: "acct_2"})

	payments.put(heldPayment("pay_1", "lesson1", "50", "2.5"))
	p2 := heldPayment("pay_2", "lesson2", "30", "1.5")
	p2.TeacherUID = "teacher2"
	payments.put(p2)

	report, err := svc.ReleaseDue(context.Background())
	require.NoError(t, err)

	// one skipped, and the batch kept going to release the second one
	assert.Equal(t, &ReleaseReport{Processed: 2, Released: 1, Skipped: 1}, report)
	require.Len(t, gw.transferReqs, 1)
	assert.Equal(t, "acct_2", gw.transferReqs[0].DestinationAccount)

	p, _ := payments.GetByID(context.Background(), "pay_1")
	assert.Equal(t, models.PaymentHeld, p.Status)
	assert.Equal(t, "MISSING_TEACHER_ACCOUNT", p.LastReleaseError)
}

func TestReleaseDue_ZeroNetReleasedWithoutTransfer(t *testing.T) {
	svc, payments, lessons, accounts, gw, _, redisMock := setupReleaseTest(t)
	expectReleaseLock(redisMock)

	lessons.put(startedLesson("lesson1"))
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})
	payments.put(heldPayment("pay_1", "lesson1", "2", "2"))

	report, err := svc.ReleaseDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReleaseReport{Processed: 1, Released: 1}, report)

	assert.Empty(t, gw.transferReqs)
	p, _ := payments.GetByID(context.Background(), "pay_1")
	assert.Equal(t, models.PaymentReleased, p.Status)
	assert.Empty(t, p.TransferID)
}

func TestReleaseDue_HeldWithTransferIDOnlyFixesStatus(t *testing.T) {
	svc, payments, lessons, accounts, gw, _, redisMock := setupReleaseTest(t)
	expectReleaseLock(redisMock)

	lessons.put(startedLesson("lesson1"))
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})

	// simulates a crash between the transfer call and the status write
	p := heldPayment("pay_1", "lesson1", "50", "2.5")
	p.TransferID = "tr_orphan"
	payments.put(p)

	report, err := svc.ReleaseDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReleaseReport{Processed: 1, Released: 1}, report)

	assert.Empty(t, gw.transferReqs, "must not transfer a second time")
	got, _ := payments.GetByID(context.Background(), "pay_1")
	assert.Equal(t, models.PaymentReleased, got.Status)
	assert.Equal(t, "tr_orphan", got.TransferID)
}

func TestReleaseDue_TransferFailureIsSticky(t *testing.T) {
	svc, payments, lessons, accounts, gw, notifier, redisMock := setupReleaseTest(t)
	expectReleaseLock(redisMock)

	lessons.put(startedLesson("lesson1"))
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})
	payments.put(heldPayment("pay_1", "lesson1", "50", "2.5"))
	gw.transferErr = gateway.ErrProviderDown

	report, err := svc.ReleaseDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReleaseReport{Processed: 1, Errors: 1}, report)

	p, _ := payments.GetByID(context.Background(), "pay_1")
	assert.Equal(t, models.PaymentHeld, p.Status)
	assert.NotEmpty(t, p.LastReleaseError)
	assert.Empty(t, notifier.released)
}

func TestReleaseDue_ConcurrentClaimIsNotAnError(t *testing.T) {
	svc, payments, lessons, accounts, gw, _, _ := setupReleaseTest(t)

	lessons.put(startedLesson("lesson1"))
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})
	payments.put(heldPayment("pay_1", "lesson1", "50", "2.5"))

	// stale snapshot from ListHeld; another run flips the status underneath
	stale := heldPayment("pay_1", "lesson1", "50", "2.5")
	require.NoError(t, payments.MarkReleased(context.Background(), "pay_1", "tr_other"))

	released, err := svc.releaseOne(context.Background(), stale)
	require.NoError(t, err)
	assert.True(t, released)

	// the stored row keeps the first run's transfer
	got, _ := payments.GetByID(context.Background(), "pay_1")
	assert.Equal(t, "tr_other", got.TransferID)
	assert.Len(t, gw.transferReqs, 1)
	assert.Equal(t, "release:pay_1", gw.transferReqs[0].IdempotencyKey)
}

func TestReleaseDue_LockHeldByAnotherRun(t *testing.T) {
	svc, _, _, _, gw, _, redisMock := setupReleaseTest(t)
	redisMock.ExpectSetNX(releaseLockKey, "1", 5*time.Minute).SetVal(false)

	_, err := svc.ReleaseDue(context.Background())
	assert.ErrorIs(t, err, ErrReleaseRunning)
	assert.Empty(t, gw.transferReqs)
}
