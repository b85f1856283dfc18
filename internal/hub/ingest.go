package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/model"
)

type fileEnvelope struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type inboundEnvelope struct {
	Recipient string        `json:"recipient"`
	Text      string        `json:"text"`
	File      *fileEnvelope `json:"file"`
}

type deliveryEnvelope struct {
	Text      *string       `json:"text"`
	Sender    string        `json:"sender"`
	Recipient string        `json:"recipient"`
	File      *fileEnvelope `json:"file"`
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
}

// HandleInbound validates one frame from c, stores any attachment, persists
// the message and forwards it to the recipient's live connections.
//
// Every failure is logged here and contained; the returned error only
// reports what happened to this frame.
func (h *Hub) HandleInbound(ctx context.Context, c *Conn, raw []byte) error {
	log := h.log.With("conn", c.id)

	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		log.Warnw("dropping unparseable frame", "error", err)
		return err
	}

	sender, ok := h.IdentityOf(c)
	if !ok {
		log.Debugw("dropping frame from anonymous connection")
		return fmt.Errorf("%w: sender not identified", ErrInvalidToken)
	}
	log = log.With("sender", sender.UserID)

	recipient := strings.TrimSpace(env.Recipient)
	hasText := strings.TrimSpace(env.Text) != ""
	hasFile := env.File != nil && env.File.Data != ""
	if recipient == "" || (!hasText && !hasFile) {
		err := fmt.Errorf("%w: recipient and text or file are required", ErrMalformedEnvelope)
		log.Debugw("dropping invalid frame", "error", err)
		return err
	}

	var text *string
	if hasText {
		text = &env.Text
	}

	var stored *string
	if hasFile {
		data, err := base64.StdEncoding.DecodeString(env.File.Data)
		if err != nil {
			err = fmt.Errorf("%w: file data: %v", ErrMalformedEnvelope, err)
			log.Warnw("dropping frame with undecodable file", "error", err)
			return err
		}
		name := StoredFileName(env.File.Name, h.clock.Now())
		stored = &name
		h.putBlob(ctx, log, name, data)
	}

	msg, err := h.persist(ctx, model.NewMessage{
		Sender:    sender.UserID,
		Recipient: recipient,
		Text:      text,
		File:      stored,
	})
	if err != nil {
		log.Errorw("failed to persist message", "recipient", recipient, "error", err)
		return err
	}
	log.Debugw("message persisted", "id", msg.ID, "recipient", recipient, "file", stored != nil)

	var file *fileEnvelope
	if hasFile {
		file = &fileEnvelope{Name: env.File.Name, Data: env.File.Data}
	}
	h.route(log, deliveryEnvelope{
		Text:      text,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		File:      file,
		ID:        msg.ID,
		CreatedAt: msg.CreatedAt,
	})

	if h.events != nil {
		if err := h.events.MessageCreated(ctx, msg); err != nil {
			log.Warnw("message event not published", "id", msg.ID, "error", err)
		}
	}
	return nil
}

func (h *Hub) putBlob(ctx context.Context, log *zap.SugaredLogger, name string, data []byte) {
	if h.blobs == nil {
		log.Errorw("no blob store configured", "file", name, "error", ErrStorageWrite)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	if err := h.blobs.Put(ctx, name, data); err != nil {
		log.Errorw("error saving file", "file", name, "error", fmt.Errorf("%w: %v", ErrStorageWrite, err))
		return
	}
	log.Infow("file saved", "file", name, "bytes", len(data))
}

func (h *Hub) persist(ctx context.Context, m model.NewMessage) (model.Message, error) {
	if h.store == nil {
		return model.Message{}, fmt.Errorf("%w: no message store", ErrPersistence)
	}
	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	msg, err := h.store.Append(ctx, m)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return msg, nil
}

func (h *Hub) route(log *zap.SugaredLogger, env deliveryEnvelope) {
	targets := h.Lookup(env.Recipient)
	if len(targets) == 0 {
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Warnw("failed to encode delivery", "id", env.ID, "error", err)
		return
	}
	for _, c := range targets {
		if err := c.transport.Send(frame); err != nil {
			log.Warnw("delivery failed", "id", env.ID, "target", c.id, "error", fmt.Errorf("%w: %v", ErrTransportSend, err))
		}
	}
}

// StoredFileName derives the server-side name for an upload from the time
// and a random suffix, keeping only the sanitized extension of the
// original. The client-supplied base name is never reused.
func StoredFileName(original string, now time.Time) string {
	base := original
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(base), "."))
	ext = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, ext)
	if len(ext) > 16 {
		ext = ext[:16]
	}

	name := fmt.Sprintf("%d-%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	if ext != "" {
		name += "." + ext
	}
	return name
}
