// Package service 实现账号、会话与车辆管理的业务逻辑。
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/langchou/evgate/internal/models"
	"github.com/langchou/evgate/internal/repository"
	"github.com/langchou/evgate/internal/session"
)

var (
	ErrAccountExists      = errors.New("service: account already exists")
	ErrInvalidCredentials = errors.New("service: invalid credentials")
	ErrInvalidToken       = errors.New("service: missing or invalid token")
	ErrVehicleNotFound    = errors.New("service: vehicle not found")
	ErrVehicleTaken       = errors.New("service: vehicle already bound to another account")
	ErrAccessDenied       = errors.New("service: access denied")
)

// VehicleChangeNotifier 激活车辆切换时通知该用户的实时连接
type VehicleChangeNotifier interface {
	NotifyVehicleChanged(email, vehicleID string)
}

// LoginResult 登录结果
type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserService 用户业务逻辑
type UserService struct {
	logger     *zap.Logger
	accounts   *repository.AccountRepository
	vehicles   *repository.VehicleRepository
	sessions   *session.Store
	notifier   VehicleChangeNotifier
	sessionTTL time.Duration
}

// NewUserService 创建用户服务
func NewUserService(
	logger *zap.Logger,
	accounts *repository.AccountRepository,
	vehicles *repository.VehicleRepository,
	sessions *session.Store,
	notifier VehicleChangeNotifier,
	sessionTTL time.Duration,
) *UserService {
	return &UserService{
		logger:     logger,
		accounts:   accounts,
		vehicles:   vehicles,
		sessions:   sessions,
		notifier:   notifier,
		sessionTTL: sessionTTL,
	}
}

// Signup 注册账号
func (s *UserService) Signup(ctx context.Context, email, userName, password string) error {
	exists, err := s.accounts.ExistsByEmail(ctx, email)
	if err != nil {
		return err
	}
	if exists {
		return ErrAccountExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.accounts.Create(ctx, &models.Account{
		Email:    email,
		UserName: userName,
		Password: string(hashed),
	}); err != nil {
		return err
	}

	s.logger.Info("Account created", zap.String("email", email))
	return nil
}

// Login 校验凭据并签发会话令牌
func (s *UserService) Login(ctx context.Context, userName, password, ip string) (*LoginResult, error) {
	account, err := s.accounts.GetByUserName(ctx, userName)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken := newToken("access_v1")
	refreshToken := newToken("refresh_v1")

	s.sessions.Put(session.Session{
		Token:        accessToken,
		RefreshToken: refreshToken,
		Email:        account.Email,
		UserName:     account.UserName,
		VehicleID:    account.VehicleID,
		LivenessAt:   time.Now(),
		LastIP:       ip,
	})

	s.logger.Info("User logged in",
		zap.String("email", account.Email),
		zap.String("vehicle_id", account.VehicleID))

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.sessionTTL.Seconds()),
	}, nil
}

// GetUserInfo 查询用户信息与绑定车辆列表
func (s *UserService) GetUserInfo(ctx context.Context, token string) (*models.UserInfo, error) {
	sess, err := s.sessions.Lookup(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	vehicles, err := s.accounts.ListVehicles(ctx, sess.Email)
	if err != nil {
		return nil, err
	}

	return &models.UserInfo{
		Email:    sess.Email,
		UserName: sess.UserName,
		Vehicles: vehicles,
	}, nil
}

// AddVehicle 绑定车辆到用户并自动设为激活车辆
func (s *UserService) AddVehicle(ctx context.Context, token, vehicleID, vehicleName string) error {
	sess, err := s.sessions.Lookup(token)
	if err != nil {
		return ErrInvalidToken
	}

	exists, err := s.vehicles.Exists(ctx, vehicleID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrVehicleNotFound
	}

	mapped, err := s.accounts.VehicleMapped(ctx, vehicleID)
	if err != nil {
		return err
	}
	if mapped {
		return ErrVehicleTaken
	}

	if err := s.accounts.AddVehicleMapping(ctx, sess.Email, vehicleID, vehicleName); err != nil {
		return err
	}

	// 首次绑定自动激活
	return s.activateVehicle(ctx, token, sess.Email, vehicleID)
}

// SelectVehicle 切换用户的激活车辆
func (s *UserService) SelectVehicle(ctx context.Context, token, vehicleID string) error {
	sess, err := s.sessions.Lookup(token)
	if err != nil {
		return ErrInvalidToken
	}

	owns, err := s.accounts.OwnsVehicle(ctx, sess.Email, vehicleID)
	if err != nil {
		return err
	}
	if !owns {
		return ErrAccessDenied
	}

	return s.activateVehicle(ctx, token, sess.Email, vehicleID)
}

// activateVehicle 落库、刷新会话并通知该用户的实时连接重绑车辆
func (s *UserService) activateVehicle(ctx context.Context, token, email, vehicleID string) error {
	if err := s.accounts.SetActiveVehicle(ctx, email, vehicleID); err != nil {
		return err
	}
	if err := s.sessions.UpdateVehicle(token, vehicleID); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.NotifyVehicleChanged(email, vehicleID)
	}

	s.logger.Info("Active vehicle changed",
		zap.String("email", email),
		zap.String("vehicle_id", vehicleID))
	return nil
}

// newToken 生成会话令牌
func newToken(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf))
}
