package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupConversationService(t *testing.T) convdomain.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&convdomain.Conversation{},
		&convdomain.Message{},
		&convdomain.Tag{},
		&convdomain.ConversationTag{},
		&convdomain.Task{},
		&convdomain.AssignmentLog{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: node})
}

func TestRecordInboundReusesConversationPerContact(t *testing.T) {
	svc := setupConversationService(t)
	ctx := context.Background()
	orgID := snowflake.ID(2001)

	_, first, err := svc.RecordInbound(ctx, convdomain.RecordInboundRequest{
		OrgID:      orgID,
		ContactRef: "wa:+5215512345678",
		Content:    "hola",
	})
	if err != nil {
		t.Fatalf("first RecordInbound: %v", err)
	}
	_, second, err := svc.RecordInbound(ctx, convdomain.RecordInboundRequest{
		OrgID:      orgID,
		ContactRef: "wa:+5215512345678",
		Content:    "¿siguen abiertos?",
	})
	if err != nil {
		t.Fatalf("second RecordInbound: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same conversation, got %s and %s", first.ID, second.ID)
	}

	reloaded, err := svc.GetConversation(ctx, orgID, first.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if reloaded.MessageCount != 2 {
		t.Fatalf("expected message_count 2, got %d", reloaded.MessageCount)
	}
	if reloaded.LastInboundAt == nil {
		t.Fatalf("expected last_inbound_at to be set")
	}

	// A different contact opens its own conversation.
	_, other, err := svc.RecordInbound(ctx, convdomain.RecordInboundRequest{
		OrgID:      orgID,
		ContactRef: "wa:+5215599999999",
		Content:    "hola",
	})
	if err != nil {
		t.Fatalf("other RecordInbound: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("expected a new conversation for a new contact")
	}
}

func TestRecordInboundRejectsEmptyContent(t *testing.T) {
	svc := setupConversationService(t)

	_, _, err := svc.RecordInbound(context.Background(), convdomain.RecordInboundRequest{
		OrgID:      snowflake.ID(2002),
		ContactRef: "wa:+5215512345678",
		Content:    "   ",
	})
	if err != convdomain.ErrInvalidMessageContent {
		t.Fatalf("expected ErrInvalidMessageContent, got %v", err)
	}
}

func TestConversationReadsAreOrgScoped(t *testing.T) {
	svc := setupConversationService(t)
	ctx := context.Background()
	orgA := snowflake.ID(2003)
	orgB := snowflake.ID(2004)

	message, conversation, err := svc.RecordInbound(ctx, convdomain.RecordInboundRequest{
		OrgID:      orgA,
		ContactRef: "wa:+5215512345678",
		Content:    "hola",
	})
	if err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}

	if _, err := svc.GetConversation(ctx, orgB, conversation.ID); err != convdomain.ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound across tenants, got %v", err)
	}
	if _, err := svc.GetMessage(ctx, orgB, message.ID); err != convdomain.ErrMessageNotFound {
		t.Fatalf("expected ErrMessageNotFound across tenants, got %v", err)
	}
	if err := svc.AttachTag(ctx, orgB, conversation.ID, "vip"); err != convdomain.ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound attaching tag across tenants, got %v", err)
	}
}

func TestAttachTagIsIdempotent(t *testing.T) {
	svc := setupConversationService(t)
	ctx := context.Background()
	orgID := snowflake.ID(2005)

	_, conversation, err := svc.RecordInbound(ctx, convdomain.RecordInboundRequest{
		OrgID:      orgID,
		ContactRef: "wa:+5215512345678",
		Content:    "precio?",
	})
	if err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.AttachTag(ctx, orgID, conversation.ID, "sales-inquiry"); err != nil {
			t.Fatalf("AttachTag #%d: %v", i+1, err)
		}
	}
	has, err := svc.HasTag(ctx, orgID, conversation.ID, "sales-inquiry")
	if err != nil {
		t.Fatalf("HasTag: %v", err)
	}
	if !has {
		t.Fatalf("expected tag to be attached")
	}
}

func TestSendReplyUpdatesLastOutbound(t *testing.T) {
	svc := setupConversationService(t)
	ctx := context.Background()
	orgID := snowflake.ID(2006)

	_, conversation, err := svc.RecordInbound(ctx, convdomain.RecordInboundRequest{
		OrgID:      orgID,
		ContactRef: "wa:+5215512345678",
		Content:    "hola",
	})
	if err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}

	reply, err := svc.SendReply(ctx, orgID, conversation.ID, "¡Hola! ¿En qué puedo ayudarte?")
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if reply.Direction != convdomain.DirectionOutbound {
		t.Fatalf("expected outbound direction, got %s", reply.Direction)
	}

	reloaded, err := svc.GetConversation(ctx, orgID, conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if reloaded.LastOutboundAt == nil {
		t.Fatalf("expected last_outbound_at to be set")
	}
}
