package controller

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wesleylin/BatchGenPro/dao/mysql"
	"github.com/wesleylin/BatchGenPro/middleware"
)

// GetCreditsHandler 查询当前登录用户的积分余额
func GetCreditsHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		ResponseError(c, CodeNeedLogin)
		return
	}

	credits, err := mysql.GetUserCredits(userID)
	if err != nil {
		if errors.Is(err, mysql.ErrUserNotExist) {
			ResponseError(c, CodeUserNotExist)
			return
		}
		zap.L().Error("mysql.GetUserCredits failed", zap.Uint64("user_id", userID), zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}

	ResponseSuccess(c, gin.H{"credits": credits})
}

// GetCreditHistoryHandler 分页查询积分流水
func GetCreditHistoryHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		ResponseError(c, CodeNeedLogin)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	records, total, err := mysql.GetCreditHistory(userID, page, pageSize)
	if err != nil {
		zap.L().Error("mysql.GetCreditHistory failed", zap.Uint64("user_id", userID), zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}

	ResponseSuccess(c, gin.H{
		"total":   total,
		"records": records,
	})
}

type rechargeForm struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

// RechargeCreditsHandler 给当前用户充值积分
func RechargeCreditsHandler(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		ResponseError(c, CodeNeedLogin)
		return
	}

	var form rechargeForm
	if err := c.ShouldBindJSON(&form); err != nil {
		ResponseError(c, CodeInvalidParams)
		return
	}
	if form.Description == "" {
		form.Description = "积分充值"
	}

	balance, err := mysql.AddCredits(userID, form.Amount, form.Description)
	if err != nil {
		if errors.Is(err, mysql.ErrUserNotExist) {
			ResponseError(c, CodeUserNotExist)
			return
		}
		zap.L().Error("mysql.AddCredits failed", zap.Uint64("user_id", userID), zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}

	ResponseSuccess(c, gin.H{"credits": balance})
}
