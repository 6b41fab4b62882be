package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p ServiceParam) convdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("conversation.service"),
		genID: p.GenID,
	}
}

func (s *Service) RecordInbound(ctx context.Context, req convdomain.RecordInboundRequest) (*convdomain.Message, *convdomain.Conversation, error) {
	if req.OrgID == 0 {
		return nil, nil, convdomain.ErrInvalidOrganization
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, nil, convdomain.ErrInvalidMessageContent
	}
	contactRef := strings.TrimSpace(req.ContactRef)
	if contactRef == "" {
		return nil, nil, convdomain.ErrInvalidMessageContent
	}

	var (
		message      *convdomain.Message
		conversation convdomain.Conversation
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		err := tx.Where("org_id = ? AND contact_ref = ?", req.OrgID, contactRef).
			First(&conversation).Error
		if err == gorm.ErrRecordNotFound {
			conversation = convdomain.Conversation{
				ID:          s.genID.Generate(),
				OrgID:       req.OrgID,
				ContactName: req.ContactName,
				ContactRef:  contactRef,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			// DO NOTHING keeps a concurrent first message from the same
			// contact from aborting the transaction; the loser re-reads
			// the winner's row.
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conversation)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Where("org_id = ? AND contact_ref = ?", req.OrgID, contactRef).
					First(&conversation).Error; err != nil {
					return err
				}
			}
		} else if err != nil {
			return err
		}

		message = &convdomain.Message{
			ID:             s.genID.Generate(),
			OrgID:          req.OrgID,
			ConversationID: conversation.ID,
			Direction:      convdomain.DirectionInbound,
			Content:        content,
			CreatedAt:      now,
		}
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		conversation.MessageCount++
		conversation.LastInboundAt = &now
		conversation.UpdatedAt = now
		return tx.Model(&convdomain.Conversation{}).
			Where("id = ? AND org_id = ?", conversation.ID, req.OrgID).
			Updates(map[string]any{
				"message_count":   gorm.Expr("message_count + 1"),
				"last_inbound_at": now,
				"updated_at":      now,
			}).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return message, &conversation, nil
}

func (s *Service) GetMessage(ctx context.Context, orgID, messageID snowflake.ID) (*convdomain.Message, error) {
	if orgID == 0 {
		return nil, convdomain.ErrInvalidOrganization
	}
	var message convdomain.Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", messageID, orgID).
		First(&message).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, convdomain.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

func (s *Service) GetConversation(ctx context.Context, orgID, conversationID snowflake.ID) (*convdomain.Conversation, error) {
	if orgID == 0 {
		return nil, convdomain.ErrInvalidOrganization
	}
	var conversation convdomain.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", conversationID, orgID).
		First(&conversation).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, convdomain.ErrConversationNotFound
		}
		return nil, err
	}
	return &conversation, nil
}

// AttachTag upserts the tag by name and links it to the conversation.
// Attaching an already present tag is a no-op.
func (s *Service) AttachTag(ctx context.Context, orgID, conversationID snowflake.ID, tagName string) error {
	tagName = strings.TrimSpace(tagName)
	if tagName == "" {
		return convdomain.ErrInvalidTagName
	}
	if _, err := s.GetConversation(ctx, orgID, conversationID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var tag convdomain.Tag
		err := tx.Where("org_id = ? AND name = ?", orgID, tagName).First(&tag).Error
		if err == gorm.ErrRecordNotFound {
			tag = convdomain.Tag{
				ID:        s.genID.Generate(),
				OrgID:     orgID,
				Name:      tagName,
				CreatedAt: now,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tag)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Where("org_id = ? AND name = ?", orgID, tagName).
					First(&tag).Error; err != nil {
					return err
				}
			}
		} else if err != nil {
			return err
		}

		return tx.Exec(
			`INSERT INTO conversation_tags (conversation_id, tag_id, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (conversation_id, tag_id) DO NOTHING`,
			conversationID, tag.ID, now,
		).Error
	})
}

func (s *Service) HasTag(ctx context.Context, orgID, conversationID snowflake.ID, tagName string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("conversation_tags").
		Joins("JOIN tags ON tags.id = conversation_tags.tag_id").
		Where("conversation_tags.conversation_id = ? AND tags.org_id = ? AND tags.name = ?", conversationID, orgID, tagName).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) AssignAgent(ctx context.Context, orgID, conversationID, agentID snowflake.ID, reason string) error {
	if agentID == 0 {
		return convdomain.ErrInvalidAgent
	}
	if _, err := s.GetConversation(ctx, orgID, conversationID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&convdomain.Conversation{}).
			Where("id = ? AND org_id = ?", conversationID, orgID).
			Updates(map[string]any{
				"assigned_agent_id": agentID,
				"updated_at":        now,
			}).Error; err != nil {
			return err
		}
		return tx.Create(&convdomain.AssignmentLog{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			ConversationID: conversationID,
			AgentID:        agentID,
			Reason:         reason,
			CreatedAt:      now,
		}).Error
	})
}

// SendReply appends an outbound message. Actual channel delivery belongs
// to the transport layer; the automation core only owns the record and
// the response-time bookkeeping.
func (s *Service) SendReply(ctx context.Context, orgID, conversationID snowflake.ID, text string) (*convdomain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, convdomain.ErrInvalidMessageContent
	}
	if _, err := s.GetConversation(ctx, orgID, conversationID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	message := &convdomain.Message{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		ConversationID: conversationID,
		Direction:      convdomain.DirectionOutbound,
		Content:        text,
		CreatedAt:      now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&convdomain.Conversation{}).
			Where("id = ? AND org_id = ?", conversationID, orgID).
			Updates(map[string]any{
				"message_count":    gorm.Expr("message_count + 1"),
				"last_outbound_at": now,
				"updated_at":       now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (s *Service) CreateTask(ctx context.Context, orgID, conversationID snowflake.ID, title, description string, dueAt *time.Time) (*convdomain.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, convdomain.ErrInvalidMessageContent
	}
	if _, err := s.GetConversation(ctx, orgID, conversationID); err != nil {
		return nil, err
	}

	task := &convdomain.Task{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		ConversationID: conversationID,
		Title:          title,
		Description:    description,
		DueAt:          dueAt,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}
