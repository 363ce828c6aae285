package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/cache"
	"github.com/langchou/evgate/internal/models"
	"github.com/langchou/evgate/internal/repository"
)

// VehicleService 车辆注册与状态查询
type VehicleService struct {
	logger   *zap.Logger
	vehicles *repository.VehicleRepository
	history  *repository.HistoryRepository
	cache    *cache.Cache
}

// NewVehicleService 创建车辆服务
func NewVehicleService(
	logger *zap.Logger,
	vehicles *repository.VehicleRepository,
	history *repository.HistoryRepository,
	c *cache.Cache,
) *VehicleService {
	return &VehicleService{
		logger:   logger,
		vehicles: vehicles,
		history:  history,
		cache:    c,
	}
}

// RegisterVehicle 注册车辆并预建状态缓存
func (s *VehicleService) RegisterVehicle(ctx context.Context, v *models.Vehicle) error {
	if err := s.vehicles.Upsert(ctx, v); err != nil {
		return err
	}
	s.cache.Ensure(v.VehicleID)

	s.logger.Info("Vehicle registered",
		zap.String("vehicle_id", v.VehicleID),
		zap.String("model", v.Model))
	return nil
}

// State 返回车辆的权威实时状态快照
func (s *VehicleService) State(vehicleID string) models.VehicleState {
	return s.cache.Get(vehicleID)
}

// Dashboard 车队总览：缓存中所有车辆的精简视图
func (s *VehicleService) Dashboard() []models.FleetVehicle {
	ids := s.cache.ListVehicleIDs()
	sort.Strings(ids)

	fleet := make([]models.FleetVehicle, 0, len(ids))
	for _, id := range ids {
		state := s.cache.Get(id)
		fv := models.FleetVehicle{
			VehicleID:  id,
			LastUpdate: state.LastUpdate,
			Speed:      state.Telemetry.Speed,
			SOC:        state.Telemetry.SOC,
			Voltage:    state.Telemetry.Voltage,
			IsLocked:   state.Status.Locked,
			Mode:       state.Status.Mode,
		}
		if state.Location != nil {
			fv.Location = *state.Location
		}
		fleet = append(fleet, fv)
	}
	return fleet
}

// LocationHistory 查询时间窗口内的位置历史
func (s *VehicleService) LocationHistory(ctx context.Context, vehicleID string, start, stop time.Time) ([]*models.LocationLog, error) {
	return s.history.ListLocations(ctx, vehicleID, start, stop)
}

// Events 查询最近的事件历史
func (s *VehicleService) Events(ctx context.Context, vehicleID string, limit int) ([]*models.EventLog, error) {
	return s.history.ListEvents(ctx, vehicleID, limit)
}
