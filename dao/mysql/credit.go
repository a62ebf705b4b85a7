package mysql

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/wesleylin/BatchGenPro/models"
)

var ErrInsufficientCredits = errors.New("积分不足")

// GetUserCredits 查询用户当前积分余额
func GetUserCredits(userID uint64) (int64, error) {
	var credits int64
	err := Db.Get(&credits, "SELECT credits FROM users WHERE user_id = ?", userID)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotExist
	}
	if err != nil {
		return 0, err
	}
	return credits, nil
}

// DeductCredits 在一个事务内扣除积分并写入流水。
// UPDATE 带 credits >= ? 条件，余额不足时影响行数为0，整个扣费回滚，
// 并发请求下也不会扣成负数。
func DeductCredits(userID uint64, amount int64, taskID string, imageCount int, description string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("扣除积分数量必须大于0")
	}

	tx, err := Db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
        UPDATE users
        SET credits = credits - ?, updated_at = NOW()
        WHERE user_id = ? AND credits >= ?`,
		amount, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to deduct credits: %v", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrInsufficientCredits
	}

	_, err = tx.Exec(`
        INSERT INTO credit_transactions (user_id, amount, type, task_id, image_count, description, created_at)
        VALUES (?, ?, 'deduct', ?, ?, ?, NOW())`,
		userID, -amount, taskID, imageCount, description)
	if err != nil {
		return 0, fmt.Errorf("failed to record transaction: %v", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %v", err)
	}

	var balance int64
	if err := Db.Get(&balance, "SELECT credits FROM users WHERE user_id = ?", userID); err != nil {
		return 0, fmt.Errorf("deduct success but failed to get balance: %v", err)
	}
	return balance, nil
}

// AddCredits 给用户充值积分并写入流水
func AddCredits(userID uint64, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("充值积分数量必须大于0")
	}

	tx, err := Db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
        UPDATE users
        SET credits = credits + ?, updated_at = NOW()
        WHERE user_id = ?`,
		amount, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to add credits: %v", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrUserNotExist
	}

	_, err = tx.Exec(`
        INSERT INTO credit_transactions (user_id, amount, type, description, created_at)
        VALUES (?, ?, 'recharge', ?, NOW())`,
		userID, amount, description)
	if err != nil {
		return 0, fmt.Errorf("failed to record transaction: %v", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %v", err)
	}

	var balance int64
	if err := Db.Get(&balance, "SELECT credits FROM users WHERE user_id = ?", userID); err != nil {
		return 0, fmt.Errorf("recharge success but failed to get balance: %v", err)
	}
	return balance, nil
}

// GetCreditHistory 分页查询积分流水，按时间倒序
func GetCreditHistory(userID uint64, page, pageSize int) ([]models.CreditTransaction, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	if err := Db.Get(&total, "SELECT COUNT(id) FROM credit_transactions WHERE user_id = ?", userID); err != nil {
		return nil, 0, err
	}

	records := make([]models.CreditTransaction, 0, pageSize)
	sqlStr := `SELECT id, user_id, amount, type, task_id, image_count, description, created_at
	           FROM credit_transactions
	           WHERE user_id = ?
	           ORDER BY created_at DESC, id DESC
	           LIMIT ? OFFSET ?`
	if err := Db.Select(&records, sqlStr, userID, pageSize, (page-1)*pageSize); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
