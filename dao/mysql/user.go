package mysql

import (
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/wesleylin/BatchGenPro/models"
)

var (
	ErrUserExist     = errors.New("用户已存在")
	ErrUserNotExist  = errors.New("用户不存在")
	ErrInvalidPasswd = errors.New("用户名或密码错误")
)

// 新用户注册赠送的初始积分
const initialCredits = 500

// CheckUserExist 检查用户名是否已被占用
func CheckUserExist(username string) error {
	var count int
	sqlStr := "SELECT COUNT(user_id) FROM users WHERE username = ?"
	if err := Db.Get(&count, sqlStr, username); err != nil {
		return err
	}
	if count > 0 {
		return ErrUserExist
	}
	return nil
}

// InsertUser 写入新用户，密码存 bcrypt 哈希
func InsertUser(user *models.User) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	sqlStr := `INSERT INTO users (username, password, credits, created_at, updated_at)
	           VALUES (?, ?, ?, NOW(), NOW())`
	res, err := Db.Exec(sqlStr, user.UserName, string(hashed), initialCredits)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	user.UserID = uint64(id)
	user.Credits = initialCredits
	return nil
}

// Login 校验用户名密码，成功后把完整用户信息回填到 user
func Login(user *models.User) error {
	password := user.Password
	sqlStr := "SELECT user_id, username, password, credits FROM users WHERE username = ?"
	err := Db.Get(user, sqlStr, user.UserName)
	if err == sql.ErrNoRows {
		return ErrUserNotExist
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return ErrInvalidPasswd
	}
	return nil
}

// GetUserByID 按用户ID查询
func GetUserByID(userID uint64) (*models.User, error) {
	user := new(models.User)
	sqlStr := "SELECT user_id, username, credits, created_at, updated_at FROM users WHERE user_id = ?"
	err := Db.Get(user, sqlStr, userID)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotExist
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
