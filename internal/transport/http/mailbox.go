package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/service"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

// MailboxHandler 邮箱读侧接口处理器
type MailboxHandler struct {
	mailboxes *service.MailboxService
	messages  *service.MessageService
	log       *zap.Logger
}

// NewMailboxHandler 创建邮箱处理器
func NewMailboxHandler(mailboxes *service.MailboxService, messages *service.MessageService, log *zap.Logger) *MailboxHandler {
	return &MailboxHandler{
		mailboxes: mailboxes,
		messages:  messages,
		log:       log,
	}
}

// GetMailbox 查询邮箱详情
// GET /api/mailbox/:mailboxId
func (h *MailboxHandler) GetMailbox(c *gin.Context) {
	mailboxID := c.Param("mailboxId")

	detail, err := h.mailboxes.Get(mailboxID)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			NotFound(c, "mailbox not found")
			return
		}
		h.log.Error("failed to get mailbox",
			zap.String("mailbox_id", mailboxID), zap.Error(err))
		InternalError(c, err.Error())
		return
	}

	Success(c, detail)
}

// ListMessages 查询邮箱邮件列表
// GET /api/mailbox/:mailboxId/messages?sync=true
//
// 默认只读本地快照，显式传 sync=true 才先向服务商同步一轮。
func (h *MailboxHandler) ListMessages(c *gin.Context) {
	mailboxID := c.Param("mailboxId")
	refresh := c.Query("sync") == "true"

	messages, err := h.messages.List(c.Request.Context(), mailboxID, refresh)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			NotFound(c, "mailbox not found")
			return
		}
		h.log.Error("failed to list messages",
			zap.String("mailbox_id", mailboxID), zap.Error(err))
		InternalError(c, err.Error())
		return
	}

	Success(c, gin.H{
		"mailboxId": mailboxID,
		"count":     len(messages),
		"messages":  messages,
	})
}

// SyncMessages 强制从服务商同步邮件
// POST /api/mailbox/:mailboxId/sync
func (h *MailboxHandler) SyncMessages(c *gin.Context) {
	mailboxID := c.Param("mailboxId")

	synced, err := h.messages.Sync(c.Request.Context(), mailboxID)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			NotFound(c, "mailbox not found")
			return
		}
		h.log.Error("failed to sync messages",
			zap.String("mailbox_id", mailboxID), zap.Error(err))
		InternalError(c, err.Error())
		return
	}

	Success(c, gin.H{
		"mailboxId": mailboxID,
		"synced":    synced,
	})
}

// GetStatus 查询邮箱状态
// GET /api/mailbox/:mailboxId/status
func (h *MailboxHandler) GetStatus(c *gin.Context) {
	mailboxID := c.Param("mailboxId")

	status, err := h.mailboxes.Status(c.Request.Context(), mailboxID)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			NotFound(c, "mailbox not found")
			return
		}
		h.log.Error("failed to get mailbox status",
			zap.String("mailbox_id", mailboxID), zap.Error(err))
		InternalError(c, err.Error())
		return
	}

	Success(c, status)
}

// ListByBuyer 查询买家名下全部邮箱
// GET /api/mailbox/buyer/:address
func (h *MailboxHandler) ListByBuyer(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		BadRequest(c, "buyer address is required")
		return
	}

	mailboxes, err := h.mailboxes.ListByBuyer(address)
	if err != nil {
		h.log.Error("failed to list mailboxes by buyer",
			zap.String("buyer", address), zap.Error(err))
		InternalError(c, err.Error())
		return
	}

	Success(c, gin.H{
		"buyer":     address,
		"count":     len(mailboxes),
		"mailboxes": mailboxes,
	})
}
