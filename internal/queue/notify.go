package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/valayash/qwaitfront/internal/events"
	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/notify"
	"github.com/valayash/qwaitfront/internal/store"

	"go.uber.org/zap"
)

// ErrSMSDisabled is returned when staff ask for an SMS at a restaurant that
// turned SMS notifications off.
var ErrSMSDisabled = fmt.Errorf("sms notifications are disabled for this restaurant: %w", store.ErrAccessDenied)

type NotifyInput struct {
	RestaurantID string
	EntryID      string
	Channel      string
	Message      string
	Subject      string
	Email        string
}

type NotifyResult struct {
	Entry     models.QueueEntry `json:"entry"`
	SMSSent   bool              `json:"sms_sent"`
	EmailSent bool              `json:"email_sent"`
	SMS       *notify.Result    `json:"sms,omitempty"`
}

// Notify tells a waiting party their table is ready. The attempt is recorded
// whatever the providers answer; an error is returned only when every
// requested channel failed.
func (c *Controller) Notify(ctx context.Context, input NotifyInput) (NotifyResult, error) {
	channel := strings.ToLower(strings.TrimSpace(input.Channel))
	if channel == "" {
		channel = notify.ChannelSMS
	}
	if !notify.ValidChannel(channel) {
		return NotifyResult{}, store.Invalid("notification_type", "must be sms, email or both")
	}
	email := strings.TrimSpace(input.Email)
	if channel == notify.ChannelEmail && email == "" {
		return NotifyResult{}, store.Invalid("customer_email", "is required for email notifications")
	}

	unlock := c.locks.Lock(entryKey(input.RestaurantID, input.EntryID))
	defer unlock()

	entry, err := c.store.GetEntry(ctx, input.RestaurantID, input.EntryID)
	if err != nil {
		return NotifyResult{}, c.wrap("get entry", err)
	}
	if !store.ValidTransition(store.ActionNotify, entry.Status) {
		return NotifyResult{}, store.ErrInvalidState
	}
	restaurant, err := c.store.GetRestaurant(ctx, input.RestaurantID)
	if err != nil {
		return NotifyResult{}, c.wrap("get restaurant", err)
	}

	vars := map[string]string{
		"customer_name":   entry.CustomerName,
		"restaurant_name": restaurant.Name,
		"people_count":    strconv.Itoa(entry.PeopleCount),
	}
	body := input.Message
	if body == "" {
		body = notify.DefaultSMSTemplate
	}
	body = notify.Render(body, vars)

	var result NotifyResult
	var failures []error
	if channel == notify.ChannelSMS || channel == notify.ChannelBoth {
		if !restaurant.SMSNotifications {
			failures = append(failures, ErrSMSDisabled)
		} else if res, err := c.notifier.SendSMS(ctx, entry.PhoneNumber, body); err != nil {
			failures = append(failures, err)
		} else {
			result.SMSSent = true
			result.SMS = &res
		}
	}
	if (channel == notify.ChannelEmail || channel == notify.ChannelBoth) && email != "" {
		subject := input.Subject
		if subject == "" {
			subject = notify.DefaultSubjectTemplate
		}
		if err := c.notifier.SendEmail(ctx, []string{email}, notify.Render(subject, vars), body); err != nil {
			failures = append(failures, err)
		} else {
			result.EmailSent = true
		}
	}

	entry, err = c.store.RecordNotification(ctx, store.NotificationInput{
		RestaurantID: input.RestaurantID,
		EntryID:      input.EntryID,
		SMSSent:      result.SMSSent,
		EmailSent:    result.EmailSent,
		OccurredAt:   c.now(),
	})
	if err != nil {
		return NotifyResult{}, c.wrap("record notification", err)
	}
	result.Entry = entry
	c.publisher.Publish(ctx, events.Update(store.EventEntryNotified, entry))

	if !result.SMSSent && !result.EmailSent && len(failures) > 0 {
		c.logger.Warn("notification failed",
			zap.String("restaurant_id", input.RestaurantID),
			zap.String("entry_id", input.EntryID),
			zap.Error(errors.Join(failures...)),
		)
		return result, failures[0]
	}
	return result, nil
}
