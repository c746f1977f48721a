package services

import (
	"log/slog"

	pubnub "github.com/pubnub/go"

	"lessonpay/models"
)

// PubNubNotifier pushes settlement events to the parties' channels. All
// publishes are fire-and-forget; a notification failure never affects the
// settlement state.
type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pn: pn}
}

func (n *PubNubNotifier) PaymentCaptured(p *models.Payment) {
	n.publish("user-"+p.PayerUID, map[string]any{
		"type":       "payment_captured",
		"payment_id": p.ID,
		"lesson_id":  p.LessonID,
	})
}

func (n *PubNubNotifier) PaymentReleased(p *models.Payment) {
	n.publish("teacher-"+p.TeacherUID, map[string]any{
		"type":       "payment_released",
		"payment_id": p.ID,
		"lesson_id":  p.LessonID,
		"net_eur":    p.NetToTeacherEUR.String(),
	})
}

func (n *PubNubNotifier) PaymentRefunded(p *models.Payment) {
	n.publish("user-"+p.PayerUID, map[string]any{
		"type":       "payment_refunded",
		"payment_id": p.ID,
		"lesson_id":  p.LessonID,
	})
}

func (n *PubNubNotifier) publish(channel string, message map[string]any) {
	go func() {
		_, _, err := n.pn.Publish().
			Channel(channel).
			Message(message).
			Execute()
		if err != nil {
			slog.Error("notify: publish failed", "channel", channel, "error", err)
		}
	}()
}
