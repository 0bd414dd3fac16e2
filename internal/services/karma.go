package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"newsrank/internal/apperrors"
	"newsrank/internal/models"
	"newsrank/internal/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 积分变动原因
const (
	KarmaReasonUpvoteReceived = "upvote received"
	KarmaReasonDownvoteCast   = "downvote cast"
	KarmaReasonCredibility    = "early vote on a top item"
	KarmaReasonModeration     = "moderation"
)

// KarmaLedger 用户积分账本：余额 + 明细，权限判断委托给 KarmaPolicy
type KarmaLedger struct {
	db     *gorm.DB
	policy utils.KarmaPolicy
	clock  clockwork.Clock
	log    *slog.Logger
}

func NewKarmaLedger(db *gorm.DB, policy utils.KarmaPolicy, clock clockwork.Clock, logger *slog.Logger) *KarmaLedger {
	return &KarmaLedger{db: db, policy: policy, clock: clock, log: logger}
}

func (k *KarmaLedger) Policy() utils.KarmaPolicy {
	return k.policy
}

const (
	usernameMaxLength = 32
	passwordMinLength = 8
)

// CreateUser 以初始积分创建用户
func (k *KarmaLedger) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > usernameMaxLength {
		return nil, apperrors.Invalid(fmt.Sprintf("username must be 1 to %d characters", usernameMaxLength))
	}
	if len(password) < passwordMinLength {
		return nil, apperrors.Invalid(fmt.Sprintf("password must be at least %d characters", passwordMinLength))
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := k.clock.Now()
	user := &models.User{Username: username, Password: hash, Karma: k.policy.Initial, CreatedAt: now, UpdatedAt: now}
	if err := k.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.Invalid("username is already taken")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	k.log.InfoContext(ctx, "User created", "user_id", user.ID)
	return user, nil
}

// Authenticate 校验用户名和密码
func (k *KarmaLedger) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := k.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.BadCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !utils.CheckPassword(user.Password, password) {
		return nil, apperrors.BadCredentials()
	}
	return &user, nil
}

// Karma 当前积分
func (k *KarmaLedger) Karma(ctx context.Context, userID uint) (int, error) {
	var user models.User
	err := k.db.WithContext(ctx).Select("id", "karma").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperrors.UserNotFound()
	}
	if err != nil {
		return 0, fmt.Errorf("load karma: %w", err)
	}
	return user.Karma, nil
}

// Adjust 使用事务修改积分并记录明细，余额不低于下限。返回新余额
func (k *KarmaLedger) Adjust(ctx context.Context, userID uint, delta int, reason string) (int, error) {
	var balance int
	err := k.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "karma").
			First(&user, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.UserNotFound()
		}
		if err != nil {
			return err
		}

		balance = k.policy.ClampKarma(user.Karma + delta)

		// 1. 创建积分明细记录（记录实际生效的变动）
		entry := models.KarmaLog{
			UserID:    userID,
			Amount:    balance - user.Karma,
			Reason:    reason,
			CreatedAt: k.clock.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		// 2. 更新用户积分余额
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			UpdateColumn("karma", balance).
			Error
	})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return 0, err
		}
		return 0, fmt.Errorf("adjust karma for user %d: %w", userID, err)
	}
	return balance, nil
}
