package session

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"wainbox/server/internal/models"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/thread"
)

// SendRequest is a message an operator wants to send in the open chat
type SendRequest struct {
	Text     string
	File     *sender.File
	Template *models.TemplateRequest
}

// Send shows the message as pending right away and dispatches it. It returns
// the temporary id of the optimistic row. Free-form messages are refused while
// the conversation window is not open; templates are always allowed.
func (v *View) Send(req SendRequest) (string, error) {
	var tempID string
	err := v.call(func() error {
		id, err := v.send(req)
		tempID = id
		return err
	})
	return tempID, err
}

// Retry dispatches a failed message again
func (v *View) Retry(tempID string) error {
	return v.call(func() error {
		return v.retry(tempID)
	})
}

func (v *View) send(req SendRequest) (string, error) {
	if v.chatID == 0 {
		return "", ErrNoConversation
	}
	out := sender.Request{
		To:       v.chatID,
		Text:     req.Text,
		File:     req.File,
		Template: req.Template,
	}
	if err := out.Validate(); err != nil {
		return "", err
	}
	if out.Template == nil && !v.window.AllowsFreeForm() {
		return "", ErrWindowClosed
	}

	c := v.thread.AppendOptimistic(v.optimistic(out))
	v.outbox[c.Record.TempID] = out
	v.emitChange(c)
	v.dispatch(c.Record.TempID, out)
	return c.Record.TempID, nil
}

func (v *View) retry(tempID string) error {
	out, ok := v.outbox[tempID]
	if !ok {
		return ErrUnknownMessage
	}
	if out.Template == nil && !v.window.AllowsFreeForm() {
		return ErrWindowClosed
	}
	c := v.thread.MarkRetrying(tempID)
	if c.Op == thread.OpNone {
		return ErrUnknownMessage
	}
	v.emitChange(c)
	v.dispatch(tempID, out)
	return nil
}

func (v *View) dispatch(tempID string, out sender.Request) {
	ctx, gen := v.convCtx, v.thread.Generation()
	go func() {
		res, err := v.deps.Sender.Send(ctx, out)
		v.post(func() { v.onSent(gen, tempID, out, res, err) })
	}()
}

func (v *View) onSent(gen uint64, tempID string, out sender.Request, res sender.Result, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	v.deps.Metrics.Sends.WithLabelValues(out.Kind(), result).Inc()

	if gen != v.thread.Generation() {
		v.stale("send")
		return
	}
	if err != nil {
		fields := []zap.Field{zap.Int64("chat_id", out.To), zap.String("temp_id", tempID), zap.Error(err)}
		var se *sender.StatusError
		if errors.As(err, &se) {
			fields = append(fields, zap.Int("status", se.Code))
		}
		v.deps.Log.Warn("send_failed", fields...)
	} else {
		delete(v.outbox, tempID)
	}

	v.emitChange(v.thread.ConfirmSend(tempID, err == nil, res.WamID))
}

// optimistic builds the row shown while a send is in flight
func (v *View) optimistic(out sender.Request) thread.Record {
	now := v.deps.Now()
	p := models.Payload{
		From:      "me",
		To:        models.FormatWaID(out.To),
		Timestamp: now.UTC().Format(time.RFC3339),
		Type:      out.Kind(),
	}
	switch {
	case out.Template != nil:
		p.Template = out.Template.Body()
	case out.File != nil:
		media := &models.MediaBody{Caption: out.Text, Filename: out.File.Name}
		switch out.File.Type {
		case models.KindImage:
			p.Image = media
		case models.KindVideo:
			p.Video = media
		default:
			p.Document = media
		}
	default:
		p.Text = &models.TextBody{Body: strings.TrimSpace(out.Text)}
	}

	return thread.Record{Message: models.Message{
		ChatID:    out.To,
		Message:   p,
		CreatedAt: now,
	}}
}
