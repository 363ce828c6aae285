// Package session 管理登录令牌会话。
// 原部署使用 Redis 存储会话哈希；这里以进程内 TTL 缓存实现同一契约，
// 接口保持可替换。
package session

import (
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrNotFound 令牌不存在或已过期
var ErrNotFound = errors.New("session: token not found")

// Session 一次登录产生的会话
type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	Email        string    `json:"email"`
	UserName     string    `json:"user_name"`
	VehicleID    string    `json:"vehicle_id"` // 当前激活车辆
	LivenessAt   time.Time `json:"liveness_at"`
	LastIP       string    `json:"last_ip"`
}

// Store 会话存储
type Store struct {
	mu  sync.Mutex // 保护单条会话的读改写
	c   *gocache.Cache
	ttl time.Duration
}

// NewStore 创建会话存储，ttl 为令牌有效期
func NewStore(ttl time.Duration) *Store {
	return &Store{
		c:   gocache.New(ttl, 10*time.Minute),
		ttl: ttl,
	}
}

// Put 写入会话（登录时调用），有效期为存储的 TTL
func (s *Store) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(sess.Token, sess, s.ttl)
}

// Lookup 按令牌查询会话
func (s *Store) Lookup(token string) (Session, error) {
	v, ok := s.c.Get(token)
	if !ok {
		return Session{}, ErrNotFound
	}
	return v.(Session), nil
}

// LookupAuth 认证用精简查询：返回用户身份与绑定车辆
func (s *Store) LookupAuth(token string) (email, vehicleID string, ok bool) {
	sess, err := s.Lookup(token)
	if err != nil {
		return "", "", false
	}
	return sess.Email, sess.VehicleID, true
}

// Touch 刷新存活时间戳（收到 pong 或认证成功时调用）
func (s *Store) Touch(token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(token)
	if !ok {
		return ErrNotFound
	}
	sess := v.(Session)
	sess.LivenessAt = at
	s.c.Set(token, sess, s.ttl)
	return nil
}

// ClearLiveness 清除存活标记（连接关闭时调用），会话本身保留
func (s *Store) ClearLiveness(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(token)
	if !ok {
		return
	}
	sess := v.(Session)
	sess.LivenessAt = time.Time{}
	s.c.Set(token, sess, s.ttl)
}

// UpdateVehicle 更新会话绑定的激活车辆（切换车辆时调用）
func (s *Store) UpdateVehicle(token, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(token)
	if !ok {
		return ErrNotFound
	}
	sess := v.(Session)
	sess.VehicleID = vehicleID
	s.c.Set(token, sess, s.ttl)
	return nil
}

// Delete 删除会话（登出）
func (s *Store) Delete(token string) {
	s.c.Delete(token)
}
