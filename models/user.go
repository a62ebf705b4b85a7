package models

import "time"

// RegisterForm 注册请求参数
type RegisterForm struct {
	UserName   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required,min=6"`
	RePassword string `json:"re_password" binding:"required,eqfield=Password"`
}

// LoginForm 登录请求参数
type LoginForm struct {
	UserName string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// User 用户信息，Password 存 bcrypt 哈希
type User struct {
	UserID       uint64    `json:"user_id" db:"user_id"`
	UserName     string    `json:"username" db:"username"`
	Password     string    `json:"-" db:"password"`
	Credits      int64     `json:"credits" db:"credits"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	AccessToken  string    `json:"access_token,omitempty" db:"-"`
	RefreshToken string    `json:"refresh_token,omitempty" db:"-"`
}

// CreditTransaction 积分流水记录
type CreditTransaction struct {
	ID          uint64    `json:"id" db:"id"`
	UserID      uint64    `json:"user_id" db:"user_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Type        string    `json:"type" db:"type"` // deduct/recharge
	TaskID      string    `json:"task_id,omitempty" db:"task_id"`
	ImageCount  int       `json:"image_count,omitempty" db:"image_count"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
