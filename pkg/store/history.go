package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"lumosai/pkg/domain"
)

// AppendMessage records a message and its attachments atomically. created_at is
// assigned here and never moves backwards relative to the assistant's latest message.
func (s *GormStore) AppendMessage(ctx context.Context, assistantID int64, role domain.Role, content string, attachments []domain.Attachment) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("invalid message role %q", role)
	}
	var msg domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = appendMessageTx(tx, assistantID, role, content, attachments)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// AppendExchange records a user turn and its reply in one transaction, so
// either both rows exist or neither does.
func (s *GormStore) AppendExchange(ctx context.Context, assistantID int64, userContent, reply string, replyAttachments []domain.Attachment) (domain.Message, domain.Message, error) {
	var user, assistant domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if user, err = appendMessageTx(tx, assistantID, domain.RoleUser, userContent, nil); err != nil {
			return fmt.Errorf("user turn: %w", err)
		}
		if assistant, err = appendMessageTx(tx, assistantID, domain.RoleAssistant, reply, replyAttachments); err != nil {
			return fmt.Errorf("reply: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	return user, assistant, nil
}

func appendMessageTx(tx *gorm.DB, assistantID int64, role domain.Role, content string, attachments []domain.Attachment) (domain.Message, error) {
	now := time.Now().UTC()
	var last MessageModel
	err := tx.Select("created_at").
		Where("assistant_id = ?", assistantID).
		Order("created_at DESC").
		Limit(1).
		Take(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, fmt.Errorf("read latest message: %w", err)
	}
	if err == nil && now.Before(last.CreatedAt) {
		now = last.CreatedAt.UTC()
	}
	model := MessageModel{
		AssistantID: assistantID,
		Role:        string(role),
		Content:     content,
		CreatedAt:   now,
	}
	for _, att := range attachments {
		model.Attachments = append(model.Attachments, attachmentToModel(att, now))
	}
	if err := tx.Create(&model).Error; err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

// ListRecentMessages returns up to limit newest messages (newest first, then reversed to chronological).
func (s *GormStore) ListRecentMessages(ctx context.Context, assistantID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("assistant_id = ?", assistantID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// ListMessages returns the full history with attachments in chronological order.
func (s *GormStore) ListMessages(ctx context.Context, assistantID int64) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("assistant_id = ?", assistantID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// DeleteMessages removes every message of an assistant and returns how many were removed.
func (s *GormStore) DeleteMessages(ctx context.Context, assistantID int64) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := deleteMessagesTx(tx, assistantID)
		removed = n
		return err
	})
	return removed, err
}

func deleteMessagesTx(tx *gorm.DB, assistantID int64) (int64, error) {
	ids := tx.Model(&MessageModel{}).Select("id").Where("assistant_id = ?", assistantID)
	if err := tx.Where("message_id IN (?)", ids).Delete(&AttachmentModel{}).Error; err != nil {
		return 0, fmt.Errorf("delete attachments: %w", err)
	}
	res := tx.Where("assistant_id = ?", assistantID).Delete(&MessageModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func attachmentToModel(att domain.Attachment, createdAt time.Time) AttachmentModel {
	var fileName *string
	if v := strings.TrimSpace(att.FileName); v != "" {
		fileName = &v
	}
	return AttachmentModel{
		Kind:       string(att.Kind),
		MimeType:   att.MimeType,
		DataBase64: att.Data,
		FileName:   fileName,
		CreatedAt:  createdAt,
	}
}

func attachmentFromModel(m AttachmentModel) domain.Attachment {
	fileName := ""
	if m.FileName != nil {
		fileName = *m.FileName
	}
	return domain.Attachment{
		ID:        m.ID,
		MessageID: m.MessageID,
		Kind:      domain.AttachmentKind(m.Kind),
		MimeType:  m.MimeType,
		Data:      m.DataBase64,
		FileName:  fileName,
		CreatedAt: m.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	attachments := make([]domain.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, attachmentFromModel(a))
	}
	return domain.Message{
		ID:          m.ID,
		AssistantID: m.AssistantID,
		Role:        domain.Role(m.Role),
		Content:     m.Content,
		Attachments: attachments,
		CreatedAt:   m.CreatedAt,
	}
}
