package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/pairchat/internal/model"
	"github.com/iliyamo/pairchat/internal/repository"
	"github.com/iliyamo/pairchat/internal/utils"
)

type memUsers struct {
	mu     sync.Mutex
	byName map[string]model.User
	err    error
}

func newMemUsers() *memUsers { return &memUsers{byName: map[string]model.User{}} }

func (m *memUsers) Create(_ context.Context, username, password string, cost int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if _, ok := m.byName[username]; ok {
		return "", repository.ErrUsernameExists
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("user-%d", len(m.byName)+1)
	m.byName[username] = model.User{ID: id, Username: username, PasswordHash: hash}
	return id, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.User{}, m.err
	}
	u, ok := m.byName[username]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) List(context.Context) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.Contact{}
	for _, u := range m.byName {
		out = append(out, model.Contact{ID: u.ID, Username: u.Username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// memMessages satisfies both hub.MessageStore and HistoryStore.
type memMessages struct {
	mu    sync.Mutex
	msgs  []model.Message
	delay time.Duration // simulates a slow database
}

func (m *memMessages) Append(_ context.Context, n model.NewMessage) (model.Message, error) {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := model.Message{
		ID:        fmt.Sprintf("msg-%d", len(m.msgs)+1),
		Sender:    n.Sender,
		Recipient: n.Recipient,
		Text:      n.Text,
		File:      n.File,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *memMessages) Between(_ context.Context, a, b string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Message{}
	for _, msg := range m.msgs {
		if (msg.Sender == a && msg.Recipient == b) || (msg.Sender == b && msg.Recipient == a) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}
