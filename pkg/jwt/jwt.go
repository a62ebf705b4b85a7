package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")

	mySecret = []byte("batchgen-pro-secret")

	// access token 短期有效，refresh token 用于续签
	accessTokenDuration  = 2 * time.Hour
	refreshTokenDuration = 7 * 24 * time.Hour
)

// SetSecret 进程启动时从配置注入签名密钥
func SetSecret(secret string) {
	if secret != "" {
		mySecret = []byte(secret)
	}
}

// MyClaims 自定义声明，业务上只需要用户ID和用户名
type MyClaims struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func keyFunc(_ *jwt.Token) (interface{}, error) {
	return mySecret, nil
}

// GenToken 签发一对 access/refresh token
func GenToken(userID uint64, username string) (aToken, rToken string, err error) {
	c := MyClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenDuration)),
			Issuer:    "BatchGenPro",
		},
	}
	aToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(mySecret)
	if err != nil {
		return "", "", err
	}

	// refresh token 不携带业务声明，只做续签凭证
	rToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(refreshTokenDuration)),
		Issuer:    "BatchGenPro",
	}).SignedString(mySecret)
	if err != nil {
		return "", "", err
	}
	return aToken, rToken, nil
}

// ParseToken 解析并校验 access token
func ParseToken(tokenString string) (*MyClaims, error) {
	claims := new(MyClaims)
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshToken 用有效的 refresh token 换发新的 token 对。
// access token 允许已过期，但签名必须有效。
func RefreshToken(aToken, rToken string) (newAToken, newRToken string, err error) {
	if _, err = jwt.Parse(rToken, keyFunc); err != nil {
		return "", "", err
	}

	claims := new(MyClaims)
	_, err = jwt.ParseWithClaims(aToken, claims, keyFunc)
	if err == nil || errors.Is(err, jwt.ErrTokenExpired) {
		return GenToken(claims.UserID, claims.Username)
	}
	return "", "", err
}
