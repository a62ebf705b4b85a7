package logic

import (
	"github.com/wesleylin/BatchGenPro/dao/mysql"
	"github.com/wesleylin/BatchGenPro/models"
	"github.com/wesleylin/BatchGenPro/pkg/jwt"
)

// SignUp 注册业务：查重后写库
func SignUp(fo *models.RegisterForm) error {
	if err := mysql.CheckUserExist(fo.UserName); err != nil {
		return err
	}
	user := &models.User{
		UserName: fo.UserName,
		Password: fo.Password,
	}
	return mysql.InsertUser(user)
}

// Login 登录业务：校验密码后签发 token 对
func Login(fo *models.LoginForm) (*models.User, error) {
	user := &models.User{
		UserName: fo.UserName,
		Password: fo.Password,
	}
	if err := mysql.Login(user); err != nil {
		return nil, err
	}

	accessToken, refreshToken, err := jwt.GenToken(user.UserID, user.UserName)
	if err != nil {
		return nil, err
	}
	user.AccessToken = accessToken
	user.RefreshToken = refreshToken
	return user, nil
}
